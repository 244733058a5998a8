// Package profile maintains per-student, per-topic mastery estimates.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/store"
)

const (
	// Alpha is the recency weight of the mastery moving average. It is a
	// fixed constant and not configurable per request.
	Alpha = 0.3

	// ConfidenceStep is the share of remaining doubt removed per observation.
	ConfidenceStep = 0.2
)

// Apply folds one correctness signal into tm. The signal is clamped to
// [0,1], so mastery and confidence never leave [0,1].
func Apply(tm store.TopicMastery, signal float64, at time.Time) store.TopicMastery {
	signal = clamp(signal, 0, 1)
	tm.Mastery = clamp(tm.Mastery*(1-Alpha)+signal*Alpha, 0, 1)
	tm.Confidence = clamp(1-(1-tm.Confidence)*(1-ConfidenceStep), 0, 1)
	tm.Observations++
	tm.LastUpdated = at
	return tm
}

// Change is the before and after state of one topic update.
type Change struct {
	Topic  string
	Before store.TopicMastery
	After  store.TopicMastery
}

// Service reads and updates knowledge profiles.
type Service struct {
	repo  store.ProfileRepo
	locks *keylock.Map
	now   func() time.Time
}

// NewService creates a profile service. locks may be shared with other
// services; profile keys are namespaced.
func NewService(repo store.ProfileRepo, locks *keylock.Map) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{repo: repo, locks: locks, now: time.Now}
}

// Get returns the student's profile. Unobserved students get an empty one.
func (s *Service) Get(ctx context.Context, studentID string) (*store.KnowledgeProfile, error) {
	return s.repo.GetProfile(ctx, studentID)
}

// Observe applies signal to the student's topic entry. The read-modify-write
// runs under the (student, topic) lock because successive EMA updates do not
// commute.
func (s *Service) Observe(ctx context.Context, studentID, topic string, signal float64) (Change, error) {
	unlock := s.locks.Lock(keylock.Key("profile", studentID, topic))
	defer unlock()

	before, _, err := s.repo.GetTopic(ctx, studentID, topic)
	if err != nil {
		return Change{}, fmt.Errorf("load topic %s: %w", topic, err)
	}
	before.Topic = topic

	after := Apply(before, signal, s.now().UTC())
	if err := s.repo.SaveTopic(ctx, studentID, after); err != nil {
		return Change{}, fmt.Errorf("save topic %s: %w", topic, err)
	}
	return Change{Topic: topic, Before: before, After: after}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
