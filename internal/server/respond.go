package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/store"
)

// APIError is the body of every error response.
type APIError struct {
	Code              string   `json:"code"`
	Message           string   `json:"message"`
	Fields            []string `json:"fields,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// respondError maps err's kind to a status code. Internal errors hide
// their cause from the caller.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := APIError{Code: string(kind), Message: err.Error()}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Message
		body.Fields = ae.Fields
		if ae.RetryAfter > 0 {
			body.RetryAfterSeconds = int(math.Ceil(ae.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
		}
	}
	if kind == apperr.KindInternal {
		body.Message = "internal server error"
	}
	c.JSON(apperr.HTTPStatus(kind), ErrorEnvelope{Error: body})
}

// bindJSON decodes the body and reports malformed input as a validation
// error.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperr.Validation("malformed request body: %v", err))
		return false
	}
	return true
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func respondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// withoutAnswers returns a copy of a with the answer keys removed.
func withoutAnswers(a *store.AssessmentData) *store.AssessmentData {
	out := *a
	out.Questions = make([]store.AssessmentQuestion, len(a.Questions))
	for i, q := range a.Questions {
		q.Answers = nil
		out.Questions[i] = q
	}
	return &out
}
