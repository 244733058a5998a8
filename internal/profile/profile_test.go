package profile

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/memstore"
)

func TestApply_EMA(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := Apply(store.TopicMastery{Topic: "derivatives", Mastery: 0.5}, 0.4, at)

	want := 0.5*(1-Alpha) + 0.4*Alpha
	if math.Abs(tm.Mastery-want) > 1e-9 {
		t.Errorf("mastery = %f, want %f", tm.Mastery, want)
	}
	if math.Abs(tm.Confidence-ConfidenceStep) > 1e-9 {
		t.Errorf("first observation confidence = %f, want %f", tm.Confidence, ConfidenceStep)
	}
	if tm.Observations != 1 || !tm.LastUpdated.Equal(at) {
		t.Errorf("bookkeeping not updated: %+v", tm)
	}
}

func TestApply_StaysInBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	tm := store.TopicMastery{}
	prevConf := 0.0
	for i := 0; i < 500; i++ {
		// Include out-of-range signals; they must be clamped.
		signal := r.Float64()*3 - 1
		tm = Apply(tm, signal, time.Time{})
		if tm.Mastery < 0 || tm.Mastery > 1 {
			t.Fatalf("step %d: mastery %f out of [0,1]", i, tm.Mastery)
		}
		if tm.Confidence < 0 || tm.Confidence > 1 {
			t.Fatalf("step %d: confidence %f out of [0,1]", i, tm.Confidence)
		}
		if tm.Confidence < prevConf {
			t.Fatalf("step %d: confidence decreased %f -> %f", i, prevConf, tm.Confidence)
		}
		prevConf = tm.Confidence
	}
	if tm.Confidence < 0.99 {
		t.Errorf("confidence should saturate near 1, got %f", tm.Confidence)
	}
}

func TestService_Observe(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	ctx := context.Background()

	ch, err := svc.Observe(ctx, "s1", "limits", 1)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ch.Before.Mastery != 0 || ch.After.Mastery <= 0 {
		t.Errorf("unexpected change: %+v", ch)
	}

	p, err := svc.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Topic("limits").Observations != 1 {
		t.Errorf("expected one observation, got %+v", p.Topic("limits"))
	}
	if got := p.Topic("never-seen"); got.Mastery != 0 || got.Confidence != 0 {
		t.Errorf("absent topic should read as zero, got %+v", got)
	}
}

func TestService_ObserveSerializesPerTopic(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Observe(ctx, "s1", "integrals", 1); err != nil {
				t.Errorf("observe: %v", err)
			}
		}()
	}
	wg.Wait()

	p, _ := svc.Get(ctx, "s1")
	if got := p.Topic("integrals").Observations; got != n {
		t.Fatalf("observations = %d, want %d (lost update)", got, n)
	}
	want := 1 - math.Pow(1-Alpha, n)
	if math.Abs(p.Topic("integrals").Mastery-want) > 1e-9 {
		t.Errorf("mastery = %f, want %f", p.Topic("integrals").Mastery, want)
	}
}
