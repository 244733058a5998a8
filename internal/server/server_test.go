package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/notify"
	"github.com/abhisek/pathwise/internal/policy"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/store"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = config.MemoryDatabase
	e, err := engine.New(context.Background(), cfg, engine.Options{Publisher: &notify.Recorder{}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	api := &testAPI{t: t, handler: New(e, nil, false).Handler()}
	api.do(http.MethodPost, "/api/v1/students", admin, map[string]any{
		"student_id": "s1", "courses": []string{"algebra-101"},
	}).expect(http.StatusCreated)
	api.do(http.MethodPost, "/api/v1/students", admin, map[string]any{"student_id": "s2"}).expect(http.StatusCreated)
	return api
}

var (
	admin      = policy.Actor{UserID: "root", Role: policy.RoleAdmin}
	instructor = policy.Actor{UserID: "i1", Role: policy.RoleInstructor}
	student1   = policy.Actor{UserID: "s1", Role: policy.RoleStudent}
	student2   = policy.Actor{UserID: "s2", Role: policy.RoleStudent}
	anonymous  = policy.Actor{}
)

type response struct {
	t   *testing.T
	rec *httptest.ResponseRecorder
}

func (a *testAPI) do(method, path string, actor policy.Actor, body any) *response {
	a.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if actor.UserID != "" {
		req.Header.Set(HeaderUserID, actor.UserID)
		req.Header.Set(HeaderRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return &response{t: a.t, rec: rec}
}

func (r *response) expect(status int) *response {
	r.t.Helper()
	require.Equal(r.t, status, r.rec.Code, r.rec.Body.String())
	return r
}

func (r *response) decode(v any) {
	r.t.Helper()
	require.NoError(r.t, json.Unmarshal(r.rec.Body.Bytes(), v))
}

func (r *response) errorCode() string {
	r.t.Helper()
	var env ErrorEnvelope
	r.decode(&env)
	return env.Error.Code
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	var health map[string]string
	api.do(http.MethodGet, "/healthz", anonymous, nil).expect(http.StatusOK).decode(&health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "v1.0.0", health["catalog_version"])

	body := api.do(http.MethodGet, "/metrics", anonymous, nil).expect(http.StatusOK).rec.Body.String()
	assert.Contains(t, body, "pathwise_http_requests_total")
}

func TestCapabilityChecks(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  policy.Actor
		body   any
		status int
	}{
		{"anonymous", http.MethodGet, "/api/v1/students/s1/profile", anonymous, nil, http.StatusForbidden},
		{"unknown role", http.MethodGet, "/api/v1/students/s1/profile", policy.Actor{UserID: "x", Role: "guest"}, nil, http.StatusForbidden},
		{"other student", http.MethodGet, "/api/v1/students/s1/profile", student2, nil, http.StatusForbidden},
		{"self", http.MethodGet, "/api/v1/students/s1/profile", student1, nil, http.StatusOK},
		{"staff", http.MethodGet, "/api/v1/students/s1/profile", instructor, nil, http.StatusOK},
		{"student cannot block", http.MethodPost, "/api/v1/students/s1/blocks", student1, map[string]string{"content_id": "alg-l1", "reason": "x"}, http.StatusForbidden},
		{"student cannot reset", http.MethodPost, "/api/v1/students/s1/progress/alg-l1/reset", student1, nil, http.StatusForbidden},
		{"instructor cannot enroll", http.MethodPost, "/api/v1/students", instructor, map[string]any{"student_id": "s3"}, http.StatusForbidden},
		{"student cannot analyze content", http.MethodPost, "/api/v1/analysis", student1, map[string]string{"text": "solve x"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := api.do(tt.method, tt.path, tt.actor, tt.body).expect(tt.status)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, "permission_denied", r.errorCode())
			}
		})
	}
}

func TestProgressionFlow(t *testing.T) {
	api := newTestAPI(t)

	var res progression.UpdateResult
	api.do(http.MethodPost, "/api/v1/students/s1/progress", student1, map[string]any{
		"content_id": "alg-l1", "status": "completed",
	}).expect(http.StatusOK).decode(&res)
	assert.Equal(t, store.StatusCompleted, res.Record.Status)
	assert.Contains(t, res.UnlockedContentIDs, "alg-l2")

	var d progression.AccessDecision
	api.do(http.MethodGet, "/api/v1/students/s1/access/alg-l2", student1, nil).expect(http.StatusOK).decode(&d)
	assert.True(t, d.Granted)

	api.do(http.MethodPost, "/api/v1/students/s1/blocks", instructor, map[string]string{
		"content_id": "alg-l2", "reason": "review first",
	}).expect(http.StatusCreated)
	api.do(http.MethodGet, "/api/v1/students/s1/access/alg-l2", student1, nil).expect(http.StatusOK).decode(&d)
	assert.False(t, d.Granted)
	assert.Equal(t, progression.ReasonBlocked, d.Reason)

	api.do(http.MethodDelete, "/api/v1/students/s1/blocks/alg-l2", instructor, nil).expect(http.StatusOK).decode(&d)
	assert.True(t, d.Granted)

	var ov progression.CourseOverview
	api.do(http.MethodGet, "/api/v1/students/s1/courses/algebra-101", student1, nil).expect(http.StatusOK).decode(&ov)
	assert.Equal(t, 1, ov.Completed)

	api.do(http.MethodPost, "/api/v1/students/s1/progress/alg-l1/reset", instructor, nil).expect(http.StatusOK)

	r := api.do(http.MethodPost, "/api/v1/students/s1/progress", student1, map[string]any{
		"content_id": "alg-l1", "completion_percentage": 140,
	}).expect(http.StatusBadRequest)
	assert.Equal(t, "validation", r.errorCode())

	api.do(http.MethodPost, "/api/v1/students/s1/progress", student1, `{"content_id":`).expect(http.StatusBadRequest)
	api.do(http.MethodGet, "/api/v1/students/s1/access/nope", student1, nil).expect(http.StatusNotFound)
}

func TestAssessmentFlow(t *testing.T) {
	api := newTestAPI(t)

	var quiz store.AssessmentData
	api.do(http.MethodPost, "/api/v1/assessments/initial", instructor, map[string]any{
		"subject_area": "algebra", "questions_per_topic": 1,
	}).expect(http.StatusCreated).decode(&quiz)
	require.NotEmpty(t, quiz.Questions)
	assert.NotEmpty(t, quiz.Questions[0].Answers, "staff see answer keys")

	var seen store.AssessmentData
	api.do(http.MethodGet, "/api/v1/students/s1/assessments/"+quiz.ID, student1, nil).expect(http.StatusOK).decode(&seen)
	for _, q := range seen.Questions {
		assert.Empty(t, q.Answers, q.QuestionID)
	}

	var placement store.AssessmentData
	api.do(http.MethodPost, "/api/v1/assessments/initial", student1, map[string]any{
		"subject_area": "algebra", "questions_per_topic": 1,
	}).expect(http.StatusCreated).decode(&placement)
	require.NotEmpty(t, placement.Questions)
	for _, q := range placement.Questions {
		assert.Empty(t, q.Answers, q.QuestionID)
	}
	api.do(http.MethodPost, "/api/v1/assessments/initial", anonymous, map[string]any{
		"subject_area": "algebra",
	}).expect(http.StatusForbidden)

	var graded engine.GradedAttempt
	api.do(http.MethodPost, "/api/v1/students/s1/attempts", student1, map[string]any{
		"assessment_id": quiz.ID,
	}).expect(http.StatusCreated).decode(&graded)
	assert.NotEmpty(t, graded.Gaps)

	var again struct {
		Gaps []store.KnowledgeGap `json:"gaps"`
	}
	api.do(http.MethodPost, "/api/v1/students/s1/attempts/"+graded.Attempt.ID+"/analyze", student1, map[string]any{
		"assessment_id": quiz.ID,
	}).expect(http.StatusOK).decode(&again)
	assert.Len(t, again.Gaps, len(graded.Gaps), "re-analysis returns the recorded gaps")

	api.do(http.MethodPost, "/api/v1/attempts/missing/regrade", student1, map[string]any{
		"points": map[string]float64{"q": 1},
	}).expect(http.StatusForbidden)
	api.do(http.MethodPost, "/api/v1/attempts/missing/regrade", instructor, map[string]any{
		"points": map[string]float64{"q": 1},
	}).expect(http.StatusNotFound)

	api.do(http.MethodPost, "/api/v1/attempts/"+graded.Attempt.ID+"/regrade", student1, map[string]any{
		"points": map[string]float64{quiz.Questions[0].QuestionID: 1},
	}).expect(http.StatusForbidden)

	var gaps struct {
		Gaps []store.KnowledgeGap `json:"gaps"`
	}
	api.do(http.MethodGet, "/api/v1/students/s1/gaps?unresolved=true", student1, nil).expect(http.StatusOK).decode(&gaps)
	assert.Len(t, gaps.Gaps, len(graded.Gaps))
	api.do(http.MethodGet, "/api/v1/students/s1/gaps?unresolved=maybe", student1, nil).expect(http.StatusBadRequest)

	r := api.do(http.MethodPost, "/api/v1/assessments/author", instructor, map[string]any{
		"subject_area": "algebra", "topic": "variables", "band": "beginner", "count": 1,
	}).expect(http.StatusServiceUnavailable)
	assert.Equal(t, "unavailable", r.errorCode())
}

func TestRecommendationAndRoadmapFlow(t *testing.T) {
	api := newTestAPI(t)

	var recs struct {
		Recommendations []store.Recommendation `json:"recommendations"`
	}
	api.do(http.MethodPost, "/api/v1/students/s1/recommendations", student1, nil).expect(http.StatusOK).decode(&recs)
	require.NotEmpty(t, recs.Recommendations)
	id := recs.Recommendations[0].ID

	api.do(http.MethodGet, "/api/v1/recommendations/"+id+"/explanation", student2, nil).expect(http.StatusForbidden)
	var ex map[string]any
	api.do(http.MethodGet, "/api/v1/recommendations/"+id+"/explanation", student1, nil).expect(http.StatusOK).decode(&ex)
	assert.InDelta(t, ex["score"], ex["sum"], 1e-9)

	var rec store.Recommendation
	api.do(http.MethodPost, "/api/v1/recommendations/"+id+"/feedback", student1, map[string]bool{"clicked": true}).
		expect(http.StatusOK).decode(&rec)
	assert.True(t, rec.Viewed)
	unknown := api.do(http.MethodPost, "/api/v1/recommendations/missing/feedback", student1, map[string]bool{"viewed": true}).
		expect(http.StatusForbidden)
	known := api.do(http.MethodPost, "/api/v1/recommendations/"+id+"/feedback", student2, map[string]bool{"viewed": true}).
		expect(http.StatusForbidden)
	assert.Equal(t, known.errorCode(), unknown.errorCode())
	api.do(http.MethodGet, "/api/v1/recommendations/missing/explanation", student2, nil).expect(http.StatusForbidden)
	api.do(http.MethodPost, "/api/v1/recommendations/missing/feedback", instructor, map[string]bool{"viewed": true}).
		expect(http.StatusNotFound)

	var rm store.Roadmap
	api.do(http.MethodPost, "/api/v1/students/s1/roadmap", student1, nil).expect(http.StatusOK).decode(&rm)
	require.NotEmpty(t, rm.Steps)
	first := rm.ID

	api.do(http.MethodGet, "/api/v1/students/s1/roadmap", student1, nil).expect(http.StatusOK).decode(&rm)
	assert.Equal(t, first, rm.ID)

	api.do(http.MethodPatch, "/api/v1/students/s1/roadmap", student1, map[string]string{"status": "paused"}).
		expect(http.StatusOK).decode(&rm)
	assert.Equal(t, store.RoadmapPaused, rm.Status)

	api.do(http.MethodGet, "/api/v1/students/s2/roadmap", student2, nil).expect(http.StatusNotFound)
	api.do(http.MethodPost, "/api/v1/students/s1/roadmap", student1, map[string]any{
		"time_constraints": map[string]any{"hours_per_week": 0},
	}).expect(http.StatusBadRequest)
}

func TestEngagementAndAnalysis(t *testing.T) {
	api := newTestAPI(t)

	api.do(http.MethodPost, "/api/v1/students/s1/interactions", student1, map[string]any{
		"events": []map[string]any{
			{"content_id": "alg-l1", "interaction_type": "start"},
			{"content_id": "alg-l1", "interaction_type": "complete", "duration_seconds": 600},
		},
	}).expect(http.StatusOK)

	var p map[string]any
	api.do(http.MethodGet, "/api/v1/students/s1/engagement", student1, nil).expect(http.StatusOK).decode(&p)
	assert.Equal(t, "lesson", p["preferred_type"])

	api.do(http.MethodPost, "/api/v1/students/s1/interactions", student1, map[string]any{
		"events": []map[string]any{{"content_id": "alg-l1", "interaction_type": "like"}},
	}).expect(http.StatusBadRequest)

	var res map[string]any
	api.do(http.MethodPost, "/api/v1/analysis", instructor, map[string]any{
		"text": "Differentiate f(x) = x^3 using the chain rule", "subject_area": "calculus",
	}).expect(http.StatusOK).decode(&res)
	assert.Equal(t, true, res["fallback_used"])
	assert.Contains(t, res["topics"], "derivatives")
}

func TestRecovery(t *testing.T) {
	api := newTestAPI(t)
	r := api.do(http.MethodGet, "/api/v1/students/s1/engagement", policy.Actor{UserID: "s1", Role: "STUDENT"}, nil)
	assert.Equal(t, http.StatusOK, r.rec.Code, "roles are case-insensitive")
	assert.False(t, strings.Contains(r.rec.Body.String(), "panic"))
}
