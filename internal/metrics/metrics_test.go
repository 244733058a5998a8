package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveLLMRequest(t *testing.T) {
	before := testutil.ToFloat64(llmRequestsTotal.WithLabelValues("mock", "test", "error"))
	ObserveLLMRequest("mock", "test", false, 10*time.Millisecond, 0)
	after := testutil.ToFloat64(llmRequestsTotal.WithLabelValues("mock", "test", "error"))
	assert.Equal(t, before+1, after)

	costBefore := testutil.ToFloat64(llmCostTotal.WithLabelValues("mock"))
	ObserveLLMRequest("mock", "test", true, time.Millisecond, 0.25)
	assert.InDelta(t, costBefore+0.25, testutil.ToFloat64(llmCostTotal.WithLabelValues("mock")), 1e-9)
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	before := testutil.ToFloat64(unlocksTotal)
	Unlocked(0)
	Unlocked(-1)
	assert.Equal(t, before, testutil.ToFloat64(unlocksTotal))

	Unlocked(2)
	assert.Equal(t, before+2, testutil.ToFloat64(unlocksTotal))
}

func TestRoadmapResult(t *testing.T) {
	before := testutil.ToFloat64(roadmapsTotal.WithLabelValues(RoadmapReused))
	RoadmapResult(RoadmapReused)
	assert.Equal(t, before+1, testutil.ToFloat64(roadmapsTotal.WithLabelValues(RoadmapReused)))
}
