package memstore

import (
	"context"
	"testing"

	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/storetest"
)

func TestRepos(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repos {
		return New().Repos()
	})
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SaveStudent(ctx, &store.Student{ID: "s1", EnrolledCourses: []string{"c1"}}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetStudent(ctx, "s1")
	got.EnrolledCourses[0] = "mutated"

	again, _ := s.GetStudent(ctx, "s1")
	if again.EnrolledCourses[0] != "c1" {
		t.Errorf("store state leaked through returned value: %v", again.EnrolledCourses)
	}
}

func TestLLMRequestsRecorded(t *testing.T) {
	s := New()
	_ = s.AppendLLMRequest(context.Background(), store.LLMRequestEventData{Provider: "mock", Success: true})
	if got := s.LLMRequests(); len(got) != 1 || got[0].Provider != "mock" {
		t.Fatalf("LLMRequests() = %+v", got)
	}
}
