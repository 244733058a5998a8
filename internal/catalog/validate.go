package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/abhisek/pathwise/internal/apperr"
)

// SupportedMajor is the catalog format major version this build reads.
const SupportedMajor = "v1"

// validateCatalog performs all structural checks on the given catalog.
// It returns a configuration error describing every problem found, or nil.
func validateCatalog(c *Catalog) error {
	var errs []string

	switch {
	case c.Version == "":
		errs = append(errs, "catalog version is required")
	case !semver.IsValid(c.Version):
		errs = append(errs, fmt.Sprintf("catalog version %q is not a valid semantic version", c.Version))
	case semver.Major(c.Version) != SupportedMajor:
		errs = append(errs, fmt.Sprintf("catalog version %s is not supported (want %s.x)", c.Version, SupportedMajor))
	}

	topicSet := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		if t.ID == "" {
			errs = append(errs, "topic with empty ID")
			continue
		}
		if topicSet[t.ID] {
			errs = append(errs, fmt.Sprintf("duplicate topic ID: %q", t.ID))
		}
		topicSet[t.ID] = true
	}

	idSet := make(map[string]*Item, len(c.Items))
	for i := range c.Items {
		it := &c.Items[i]
		if it.ID == "" {
			errs = append(errs, "item with empty ID")
			continue
		}
		if idSet[it.ID] != nil {
			errs = append(errs, fmt.Sprintf("duplicate item ID: %q", it.ID))
		}
		idSet[it.ID] = it
	}

	for _, it := range c.Items {
		prefix := fmt.Sprintf("item %q", it.ID)
		if !it.Type.Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown type %q", prefix, it.Type))
		}
		if it.Difficulty < 0 || it.Difficulty > 1 {
			errs = append(errs, fmt.Sprintf("%s: difficulty must be in [0, 1], got %f", prefix, it.Difficulty))
		}
		if it.EstimatedMins < 0 {
			errs = append(errs, fmt.Sprintf("%s: estimated_minutes must be >= 0, got %d", prefix, it.EstimatedMins))
		}
		for _, topic := range it.Topics {
			if !topicSet[topic] {
				errs = append(errs, fmt.Sprintf("%s references unknown topic %q", prefix, topic))
			}
		}
		if it.CourseID != "" {
			course := idSet[it.CourseID]
			switch {
			case course == nil:
				errs = append(errs, fmt.Sprintf("%s references nonexistent course %q", prefix, it.CourseID))
			case course.Type != TypeCourse:
				errs = append(errs, fmt.Sprintf("%s: parent %q is a %s, not a course", prefix, it.CourseID, course.Type))
			case it.Type == TypeCourse:
				errs = append(errs, fmt.Sprintf("%s: courses cannot be nested", prefix))
			}
		}
		for _, p := range it.Prerequisites {
			if idSet[p.ContentID] == nil {
				errs = append(errs, fmt.Sprintf("%s references nonexistent prerequisite %q", prefix, p.ContentID))
			}
			if p.ContentID == it.ID {
				errs = append(errs, fmt.Sprintf("%s lists itself as a prerequisite", prefix))
			}
			if p.MinScore != nil && (*p.MinScore < 0 || *p.MinScore > 100) {
				errs = append(errs, fmt.Sprintf("%s: min_score for %q must be in [0, 100], got %f", prefix, p.ContentID, *p.MinScore))
			}
		}
	}

	if cycle := findCycle(c.Items, idSet); len(cycle) > 0 {
		errs = append(errs, fmt.Sprintf("cycle detected involving items: %s", strings.Join(cycle, ", ")))
	}

	bankSet := make(map[string]bool)
	for _, b := range c.QuestionBanks {
		if bankSet[b.SubjectArea] {
			errs = append(errs, fmt.Sprintf("duplicate question bank for subject area %q", b.SubjectArea))
		}
		bankSet[b.SubjectArea] = true
		qids := make(map[string]bool, len(b.Questions))
		for _, q := range b.Questions {
			prefix := fmt.Sprintf("question %q", q.ID)
			if qids[q.ID] {
				errs = append(errs, fmt.Sprintf("duplicate question ID: %q", q.ID))
			}
			qids[q.ID] = true
			if !q.Band.Valid() {
				errs = append(errs, fmt.Sprintf("%s: unknown difficulty %q", prefix, q.Band))
			}
			if !q.Type.Valid() {
				errs = append(errs, fmt.Sprintf("%s: unknown type %q", prefix, q.Type))
			}
			if q.Type != QuestionOpen && len(q.Answers) == 0 {
				errs = append(errs, fmt.Sprintf("%s: answers are required for %s questions", prefix, q.Type))
			}
			for _, topic := range q.Topics {
				if !topicSet[topic] {
					errs = append(errs, fmt.Sprintf("%s references unknown topic %q", prefix, topic))
				}
			}
		}
	}

	if len(errs) > 0 {
		return apperr.Configuration("catalog validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// gatingEdges returns every "from must finish before to" edge implied by the
// catalog: explicit prerequisites, prerequisites inherited from the parent
// course, and each child feeding its course's derived completion.
func gatingEdges(items []Item, byID map[string]*Item) map[string][]string {
	adj := make(map[string][]string)
	for _, it := range items {
		for _, p := range it.Prerequisites {
			if byID[p.ContentID] != nil {
				adj[p.ContentID] = append(adj[p.ContentID], it.ID)
			}
		}
		if it.CourseID == "" {
			continue
		}
		if course := byID[it.CourseID]; course != nil {
			for _, p := range course.Prerequisites {
				if byID[p.ContentID] != nil {
					adj[p.ContentID] = append(adj[p.ContentID], it.ID)
				}
			}
			adj[it.ID] = append(adj[it.ID], it.CourseID)
		}
	}
	return adj
}

// findCycle runs Kahn's algorithm over the gating edges and returns the IDs
// left with nonzero in-degree, sorted. Empty means acyclic.
func findCycle(items []Item, byID map[string]*Item) []string {
	adj := gatingEdges(items, byID)
	inDegree := make(map[string]int, len(items))
	for _, it := range items {
		if _, ok := inDegree[it.ID]; !ok {
			inDegree[it.ID] = 0
		}
	}
	for _, tos := range adj {
		for _, to := range tos {
			inDegree[to]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range adj[id] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if visited == len(inDegree) {
		return nil
	}
	var cycle []string
	for id, deg := range inDegree {
		if deg > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return cycle
}
