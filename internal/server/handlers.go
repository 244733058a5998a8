package server

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/assessment"
	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/engagement"
	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/policy"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/roadmap"
)

// authorize reports whether the caller may perform op on ownerID's records,
// writing the error response when not.
func authorize(c *gin.Context, op policy.Operation, ownerID string) bool {
	if err := policy.Check(actorOf(c), op, ownerID); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// authorizeOwned checks op against the owner of the record named by id.
// An unknown id is checked as unowned, so a caller who may not act on it
// is denied the same way whether or not it exists.
func authorizeOwned(c *gin.Context, op policy.Operation, ownerOf func(context.Context, string) (string, error), id string) bool {
	owner, err := ownerOf(c.Request.Context(), id)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		respondError(c, err)
		return false
	}
	if !authorize(c, op, owner) {
		return false
	}
	if err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}

func queryBool(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.ValidationFields(key+" must be true or false", key)
	}
	return v, nil
}

func (s *Server) enroll(c *gin.Context) {
	var in engine.Enrollment
	if !bindJSON(c, &in) || !authorize(c, policy.OpEnrollStudent, in.StudentID) {
		return
	}
	st, err := s.engine.Enroll(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, st)
}

// Progression

func (s *Server) canAccess(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpCheckAccess, student) {
		return
	}
	d, err := s.engine.Progression.CanAccess(c.Request.Context(), student, c.Param("content"), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, d)
}

func (s *Server) updateProgress(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpUpdateProgress, student) {
		return
	}
	var u progression.ProgressUpdate
	if !bindJSON(c, &u) {
		return
	}
	u.StudentID = student
	res, err := s.engine.Progression.UpdateProgress(c.Request.Context(), u)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res)
}

func (s *Server) resetProgress(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpResetProgress, student) {
		return
	}
	rec, err := s.engine.Progression.ResetProgress(c.Request.Context(), student, c.Param("content"), actorOf(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rec)
}

type blockRequest struct {
	ContentID string `json:"content_id"`
	Reason    string `json:"reason"`
}

func (s *Server) block(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpBlock, student) {
		return
	}
	var req blockRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := s.engine.Progression.Block(c.Request.Context(), progression.BlockInput{
		StudentID: student, ContentID: req.ContentID, Reason: req.Reason,
	}, actorOf(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, b)
}

func (s *Server) unblock(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpUnblock, student) {
		return
	}
	d, err := s.engine.Progression.Unblock(c.Request.Context(), student, c.Param("content"), c.Query("type"), actorOf(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, d)
}

func (s *Server) courseOverview(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpCourseOverview, student) {
		return
	}
	ov, err := s.engine.Progression.CourseOverview(c.Request.Context(), student, c.Param("course"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ov)
}

// Knowledge profile and gaps

func (s *Server) profile(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpReadProfile, student) {
		return
	}
	p, err := s.engine.Gaps.Profile(c.Request.Context(), student)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, p)
}

func (s *Server) gaps(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpReadGaps, student) {
		return
	}
	unresolved, err := queryBool(c, "unresolved")
	if err != nil {
		respondError(c, err)
		return
	}
	gaps, err := s.engine.Gaps.ListGaps(c.Request.Context(), student, unresolved)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"gaps": gaps})
}

type analyzeAttemptRequest struct {
	AssessmentID string `json:"assessment_id"`
}

func (s *Server) analyzeAttempt(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpAnalyzeGaps, student) {
		return
	}
	var req analyzeAttemptRequest
	if !bindJSON(c, &req) {
		return
	}
	gaps, err := s.engine.Gaps.Analyze(c.Request.Context(), student, req.AssessmentID, c.Param("attempt"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"gaps": gaps})
}

// Assessments

type initialRequest struct {
	SubjectArea       string   `json:"subject_area"`
	Topics            []string `json:"topics"`
	QuestionsPerTopic int      `json:"questions_per_topic"`
	DifficultyLevels  []string `json:"difficulty_levels"`
	TimeLimitMinutes  int      `json:"time_limit_minutes"`
	PassingScore      float64  `json:"passing_score"`
}

func (s *Server) createInitial(c *gin.Context) {
	if !authorize(c, policy.OpCreateInitial, "") {
		return
	}
	var req initialRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg := assessment.InitialConfig{
		SubjectArea:       req.SubjectArea,
		Topics:            req.Topics,
		QuestionsPerTopic: req.QuestionsPerTopic,
		TimeLimit:         time.Duration(req.TimeLimitMinutes) * time.Minute,
		PassingScore:      req.PassingScore,
	}
	for _, b := range req.DifficultyLevels {
		cfg.DifficultyLevels = append(cfg.DifficultyLevels, catalog.Band(b))
	}
	a, err := s.engine.Assessments.CreateInitial(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	if actorOf(c).Role == policy.RoleStudent {
		a = withoutAnswers(a)
	}
	respondCreated(c, a)
}

type personalizedRequest struct {
	SubjectArea string `json:"subject_area"`
}

func (s *Server) personalized(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpGeneratePersonal, student) {
		return
	}
	var req personalizedRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := s.engine.Assessments.GeneratePersonalized(c.Request.Context(), student, req.SubjectArea)
	if err != nil {
		respondError(c, err)
		return
	}
	if actorOf(c).Role == policy.RoleStudent {
		a = withoutAnswers(a)
	}
	respondCreated(c, a)
}

// getAssessment returns an assessment the student may take. Answer keys are
// withheld from students.
func (s *Server) getAssessment(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpSubmitAttempt, student) {
		return
	}
	a, err := s.engine.Assessments.Get(c.Request.Context(), c.Param("assessment"))
	if err != nil {
		respondError(c, err)
		return
	}
	if a.StudentID != "" && a.StudentID != student {
		respondError(c, apperr.NotFound("assessment", a.ID))
		return
	}
	if actorOf(c).Role == policy.RoleStudent {
		a = withoutAnswers(a)
	}
	respondOK(c, a)
}

type submitRequest struct {
	AssessmentID string              `json:"assessment_id"`
	Responses    map[string][]string `json:"responses"`
	StartedAt    *time.Time          `json:"started_at"`
}

func (s *Server) submitAttempt(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpSubmitAttempt, student) {
		return
	}
	var req submitRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.engine.Submit(c.Request.Context(), assessment.Submission{
		StudentID:    student,
		AssessmentID: req.AssessmentID,
		Responses:    req.Responses,
		StartedAt:    req.StartedAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, res)
}

type regradeRequest struct {
	Points map[string]float64 `json:"points"`
}

func (s *Server) regrade(c *gin.Context) {
	ctx := c.Request.Context()
	if !authorizeOwned(c, policy.OpRegradeAttempt, s.engine.AttemptOwner, c.Param("attempt")) {
		return
	}
	var req regradeRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := s.engine.Assessments.RegradeAttempt(ctx, assessment.Regrade{
		AttemptID: c.Param("attempt"),
		Points:    req.Points,
		GradedBy:  actorOf(c).UserID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, a)
}

type authorRequest struct {
	SubjectArea string `json:"subject_area"`
	Topic       string `json:"topic"`
	Band        string `json:"band"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
}

func (s *Server) authorQuestions(c *gin.Context) {
	if !authorize(c, policy.OpAuthorQuestions, "") {
		return
	}
	if s.engine.Author == nil {
		respondError(c, apperr.Unavailable("question authoring needs an LLM provider", nil))
		return
	}
	var req authorRequest
	if !bindJSON(c, &req) {
		return
	}
	qs, err := s.engine.Author.Generate(c.Request.Context(), assessment.AuthorRequest{
		SubjectArea: req.SubjectArea,
		Topic:       req.Topic,
		Band:        catalog.Band(req.Band),
		Type:        catalog.QuestionType(req.Type),
		Count:       req.Count,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"questions": qs})
}

// Engagement

type interactionsRequest struct {
	Events []engagement.Event `json:"events"`
}

func (s *Server) recordInteractions(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpRecordInteractions, student) {
		return
	}
	var req interactionsRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.engine.Engagement.Record(c.Request.Context(), student, req.Events); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"recorded": len(req.Events)})
}

func (s *Server) engagement(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpReadEngagement, student) {
		return
	}
	p, err := s.engine.Engagement.Analyze(c.Request.Context(), student)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, p)
}

// Recommendations

func (s *Server) recommend(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpGenerateRecommend, student) {
		return
	}
	var opts recommend.Options
	if !bindOptionalJSON(c, &opts) {
		return
	}
	recs, err := s.engine.Recommend.Generate(c.Request.Context(), student, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"recommendations": recs})
}

type feedbackRequest struct {
	Viewed  bool `json:"viewed"`
	Clicked bool `json:"clicked"`
}

func (s *Server) feedback(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("recommendation")
	if !authorizeOwned(c, policy.OpRecommendFeedback, s.engine.Recommend.Owner, id) {
		return
	}
	var req feedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := s.engine.Recommend.RecordFeedback(ctx, recommend.Feedback{RecommendationID: id, Viewed: req.Viewed, Clicked: req.Clicked})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rec)
}

func (s *Server) explain(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("recommendation")
	if !authorizeOwned(c, policy.OpExplainRecommend, s.engine.Recommend.Owner, id) {
		return
	}
	ex, err := s.engine.Recommend.Explain(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ex)
}

// Roadmaps

func (s *Server) generateRoadmap(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpGenerateRoadmap, student) {
		return
	}
	var opts roadmap.Options
	if !bindOptionalJSON(c, &opts) {
		return
	}
	rm, err := s.engine.Roadmap.Generate(c.Request.Context(), student, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rm)
}

func (s *Server) getRoadmap(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpReadRoadmap, student) {
		return
	}
	rm, err := s.engine.Roadmap.GetWithProgress(c.Request.Context(), student)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rm)
}

type roadmapStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setRoadmapStatus(c *gin.Context) {
	student := c.Param("student")
	if !authorize(c, policy.OpSetRoadmapStatus, student) {
		return
	}
	var req roadmapStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	rm, err := s.engine.Roadmap.SetStatus(c.Request.Context(), student, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rm)
}

// Content analysis

type analysisRequest struct {
	Text        string `json:"text"`
	Type        string `json:"analysis_type"`
	SubjectArea string `json:"subject_area"`
}

func (s *Server) analyzeContent(c *gin.Context) {
	if !authorize(c, policy.OpAnalyzeContent, "") {
		return
	}
	var req analysisRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.engine.Analysis.Analyze(c.Request.Context(), analysis.Request{
		Text:        req.Text,
		Type:        analysis.Type(req.Type),
		SubjectArea: req.SubjectArea,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res)
}
