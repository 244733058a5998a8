// Package memstore is an in-memory store.Repos used by tests and by the
// CLI when no database is wanted.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/store"
)

type pairKey struct{ a, b string }

// Store keeps every entity family in maps behind a single mutex.
type Store struct {
	mu sync.RWMutex

	seq             int64
	students        map[string]store.Student
	topics          map[pairKey]store.TopicMastery
	gaps            []store.KnowledgeGap
	progress        map[pairKey]store.ProgressRecord
	blocks          []store.ProgressionBlock
	attempts        map[string]store.AssessmentAttempt
	assessments     map[string]store.AssessmentData
	interactions    []store.Interaction
	patterns        map[string]store.EngagementPatternData
	recommendations map[string]store.Recommendation
	roadmaps        map[string]store.Roadmap
	llmEvents       []store.LLMRequestEventData
}

// New returns an empty store.
func New() *Store {
	return &Store{
		students:        make(map[string]store.Student),
		topics:          make(map[pairKey]store.TopicMastery),
		progress:        make(map[pairKey]store.ProgressRecord),
		attempts:        make(map[string]store.AssessmentAttempt),
		assessments:     make(map[string]store.AssessmentData),
		patterns:        make(map[string]store.EngagementPatternData),
		recommendations: make(map[string]store.Recommendation),
		roadmaps:        make(map[string]store.Roadmap),
	}
}

// Repos returns every repository backed by this store.
func (s *Store) Repos() store.Repos {
	return store.Repos{
		Students:        s,
		Profiles:        s,
		Gaps:            s,
		Progress:        s,
		Blocks:          s,
		Attempts:        s,
		Assessments:     s,
		Interactions:    s,
		Patterns:        s,
		Recommendations: s,
		Roadmaps:        s,
		Events:          s,
	}
}

// LLMRequests returns a copy of the recorded LLM request events.
func (s *Store) LLMRequests() []store.LLMRequestEventData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.LLMRequestEventData(nil), s.llmEvents...)
}

// clone deep-copies v through JSON so callers never share nested slices
// or maps with the store.
func clone[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

func (s *Store) GetStudent(_ context.Context, id string) (*store.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, apperr.NotFound("student", id)
	}
	st = clone(st)
	return &st, nil
}

func (s *Store) SaveStudent(_ context.Context, st *store.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = clone(*st)
	return nil
}

func (s *Store) GetProfile(_ context.Context, studentID string) (*store.KnowledgeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := &store.KnowledgeProfile{StudentID: studentID, Topics: make(map[string]store.TopicMastery)}
	for k, tm := range s.topics {
		if k.a == studentID {
			p.Topics[tm.Topic] = tm
		}
	}
	return p, nil
}

func (s *Store) GetTopic(_ context.Context, studentID, topic string) (store.TopicMastery, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tm, ok := s.topics[pairKey{studentID, topic}]
	if !ok {
		return store.TopicMastery{Topic: topic}, false, nil
	}
	return tm, true, nil
}

func (s *Store) SaveTopic(_ context.Context, studentID string, tm store.TopicMastery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[pairKey{studentID, tm.Topic}] = tm
	return nil
}

func (s *Store) AppendGap(_ context.Context, g *store.KnowledgeGap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps = append(s.gaps, clone(*g))
	return nil
}

func (s *Store) ListGaps(_ context.Context, studentID string, filter store.GapFilter) ([]store.KnowledgeGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.KnowledgeGap
	for _, g := range s.gaps {
		if g.StudentID != studentID {
			continue
		}
		if filter.Topic != "" && g.Topic != filter.Topic {
			continue
		}
		if filter.DetectedFrom != "" && g.DetectedFrom != filter.DetectedFrom {
			continue
		}
		if filter.UnresolvedOnly && g.Resolved {
			continue
		}
		out = append(out, clone(g))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ResolveGaps(_ context.Context, studentID, topic string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.gaps {
		g := &s.gaps[i]
		if g.StudentID == studentID && g.Topic == topic && !g.Resolved {
			t := at
			g.Resolved = true
			g.ResolvedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *Store) GetProgress(_ context.Context, studentID, contentID string) (*store.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.progress[pairKey{studentID, contentID}]
	if !ok {
		return nil, nil
	}
	rec = clone(rec)
	return &rec, nil
}

func (s *Store) ListProgress(_ context.Context, studentID string) ([]store.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ProgressRecord
	for k, rec := range s.progress {
		if k.a == studentID {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

func (s *Store) SaveProgress(_ context.Context, rec *store.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{rec.StudentID, rec.ContentID}
	cur, exists := s.progress[k]
	switch {
	case rec.Version == 0 && exists:
		return store.ErrVersionConflict
	case rec.Version != 0 && (!exists || cur.Version != rec.Version):
		return store.ErrVersionConflict
	}
	next := clone(*rec)
	next.Version = rec.Version + 1
	if exists {
		next.CreatedAt = cur.CreatedAt
	}
	s.progress[k] = next
	rec.Version = next.Version
	return nil
}

func (s *Store) CreateBlock(_ context.Context, b *store.ProgressionBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, clone(*b))
	return nil
}

func (s *Store) ActiveBlock(_ context.Context, studentID, contentID string) (*store.ProgressionBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.blocks) - 1; i >= 0; i-- {
		b := s.blocks[i]
		if b.StudentID == studentID && b.ContentID == contentID && b.ResolvedAt == nil {
			b = clone(b)
			return &b, nil
		}
	}
	return nil, nil
}

func (s *Store) ListActiveBlocks(_ context.Context, studentID string) ([]store.ProgressionBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ProgressionBlock
	for _, b := range s.blocks {
		if b.StudentID == studentID && b.ResolvedAt == nil {
			out = append(out, clone(b))
		}
	}
	return out, nil
}

func (s *Store) ResolveBlock(_ context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blocks {
		b := &s.blocks[i]
		if b.ID == id && b.ResolvedAt == nil {
			t := at
			b.ResolvedAt = &t
			b.ResolvedBy = resolvedBy
			return nil
		}
	}
	return apperr.NotFound("active block", id)
}

func (s *Store) CreateAttempt(_ context.Context, a *store.AssessmentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = clone(*a)
	return nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (*store.AssessmentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, apperr.NotFound("attempt", id)
	}
	a = clone(a)
	return &a, nil
}

func (s *Store) ListAttempts(_ context.Context, studentID string) ([]store.AssessmentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.AssessmentAttempt
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateGrade(_ context.Context, a *store.AssessmentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attempts[a.ID]
	if !ok {
		return apperr.NotFound("attempt", a.ID)
	}
	next := clone(*a)
	next.StudentID = cur.StudentID
	next.AssessmentID = cur.AssessmentID
	next.SubmittedAt = cur.SubmittedAt
	next.AnalyzedAt = cur.AnalyzedAt
	s.attempts[a.ID] = next
	return nil
}

func (s *Store) MarkAnalyzed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, apperr.NotFound("attempt", id)
	}
	if a.AnalyzedAt != nil {
		return false, nil
	}
	at = at.UTC()
	a.AnalyzedAt = &at
	s.attempts[id] = a
	return true, nil
}

func (s *Store) SaveAssessment(_ context.Context, a *store.AssessmentData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ID] = clone(*a)
	return nil
}

func (s *Store) GetAssessment(_ context.Context, id string) (*store.AssessmentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, apperr.NotFound("assessment", id)
	}
	a = clone(a)
	return &a, nil
}

func (s *Store) AppendInteractions(_ context.Context, events []store.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		s.seq++
		events[i].Sequence = s.seq
		s.interactions = append(s.interactions, events[i])
	}
	return nil
}

func (s *Store) ListInteractions(_ context.Context, studentID string) ([]store.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Interaction
	for _, ev := range s.interactions {
		if ev.StudentID == studentID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *Store) GetPattern(_ context.Context, studentID string) (*store.EngagementPatternData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[studentID]
	if !ok {
		return nil, nil
	}
	p = clone(p)
	return &p, nil
}

func (s *Store) SavePattern(_ context.Context, p *store.EngagementPatternData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p.StudentID] = clone(*p)
	return nil
}

func (s *Store) SaveRecommendations(_ context.Context, recs []store.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.recommendations[r.ID] = clone(r)
	}
	return nil
}

func (s *Store) GetRecommendation(_ context.Context, id string) (*store.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recommendations[id]
	if !ok {
		return nil, apperr.NotFound("recommendation", id)
	}
	r = clone(r)
	return &r, nil
}

func (s *Store) MarkFeedback(_ context.Context, id string, viewed, clicked bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recommendations[id]
	if !ok {
		return apperr.NotFound("recommendation", id)
	}
	r.Viewed = r.Viewed || viewed
	r.Clicked = r.Clicked || clicked
	r.UpdatedAt = at
	s.recommendations[id] = r
	return nil
}

func (s *Store) GetRoadmap(_ context.Context, studentID string) (*store.Roadmap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roadmaps[studentID]
	if !ok {
		return nil, nil
	}
	r = clone(r)
	return &r, nil
}

func (s *Store) SaveRoadmap(_ context.Context, r *store.Roadmap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roadmaps[r.StudentID] = clone(*r)
	return nil
}

func (s *Store) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.llmEvents = append(s.llmEvents, data)
	return nil
}
