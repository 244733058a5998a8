package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
)

type sample struct {
	Name  string  `validate:"required"`
	Score float64 `validate:"gte=0,lte=100"`
	Kind  string  `validate:"omitempty,oneof=lesson course"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "x", Score: 50}))
}

func TestStruct_ReportsAllFields(t *testing.T) {
	err := Struct(sample{Score: 120, Kind: "video"})
	require.Error(t, err)

	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.ElementsMatch(t, []string{"Name", "Score", "Kind"}, e.Fields)
	assert.Contains(t, e.Message, "Score must satisfy lte=100")
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("hours", 4.0, "gt=0"))
	err := Var("hours", 0.0, "gt=0")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
