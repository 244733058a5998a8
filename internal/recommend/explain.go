package recommend

import (
	"context"
	"fmt"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/validate"
)

// FactorLine is one row of an explanation.
type FactorLine struct {
	Name string `json:"name"`
	store.FactorScore
}

// Explanation breaks a recommendation's score into its factors.
type Explanation struct {
	RecommendationID string       `json:"recommendation_id"`
	StudentID        string       `json:"student_id"`
	ContentID        string       `json:"content_id"`
	Score            float64      `json:"score"`
	Factors          []FactorLine `json:"factors"`
	// Sum is the total of the weighted contributions. It equals Score.
	Sum float64 `json:"sum"`
}

// Explain returns the factor breakdown recorded with a recommendation.
func (s *Service) Explain(ctx context.Context, recommendationID string) (*Explanation, error) {
	if err := validate.Var("recommendation_id", recommendationID, "required"); err != nil {
		return nil, err
	}
	rec, err := s.deps.Recommendations.GetRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, err
	}
	ex := &Explanation{
		RecommendationID: rec.ID,
		StudentID:        rec.StudentID,
		ContentID:        rec.ContentID,
		Score:            rec.Score,
	}
	for _, name := range FactorOrder {
		fs, ok := rec.Factors[name]
		if !ok {
			continue
		}
		ex.Factors = append(ex.Factors, FactorLine{Name: name, FactorScore: fs})
		ex.Sum += fs.Contribution
	}
	return ex, nil
}

// Feedback reports that a student saw or followed a recommendation.
type Feedback struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
	Viewed           bool   `json:"viewed"`
	Clicked          bool   `json:"clicked"`
}

// RecordFeedback sets the viewed and clicked flags. A click implies a view.
// Flags never revert and the score is untouched.
func (s *Service) RecordFeedback(ctx context.Context, fb Feedback) (*store.Recommendation, error) {
	if err := validate.Struct(fb); err != nil {
		return nil, err
	}
	if !fb.Viewed && !fb.Clicked {
		return nil, apperr.ValidationFields("feedback must set viewed or clicked", "viewed", "clicked")
	}
	if err := s.deps.Recommendations.MarkFeedback(ctx, fb.RecommendationID, fb.Viewed || fb.Clicked, fb.Clicked, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("mark feedback: %w", err)
	}
	return s.deps.Recommendations.GetRecommendation(ctx, fb.RecommendationID)
}

// Owner returns the student a recommendation belongs to, for callers that
// authorize by ownership.
func (s *Service) Owner(ctx context.Context, recommendationID string) (string, error) {
	rec, err := s.deps.Recommendations.GetRecommendation(ctx, recommendationID)
	if err != nil {
		return "", err
	}
	return rec.StudentID, nil
}
