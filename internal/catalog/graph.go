package catalog

import (
	"math"
	"slices"
	"sort"

	"github.com/abhisek/pathwise/internal/apperr"
)

// Graph holds a validated catalog with precomputed indices. It is immutable
// after New and safe for concurrent use.
type Graph struct {
	version    string
	items      []Item
	byID       map[string]*Item
	topics     map[string]Topic
	topicOrder []string
	byCourse   map[string][]string
	byTopic    map[string][]string
	effective  map[string][]Prerequisite
	dependents map[string][]string
	topoOrder  []string
	topoIndex  map[string]int
	importance map[string]float64
	banks      map[string]QuestionBank
}

// New validates c and builds the graph. A cyclic or inconsistent catalog
// yields an apperr configuration error.
func New(c *Catalog) (*Graph, error) {
	if err := validateCatalog(c); err != nil {
		return nil, err
	}

	g := &Graph{
		version:    c.Version,
		items:      slices.Clone(c.Items),
		byID:       make(map[string]*Item, len(c.Items)),
		topics:     make(map[string]Topic, len(c.Topics)),
		byCourse:   make(map[string][]string),
		byTopic:    make(map[string][]string),
		effective:  make(map[string][]Prerequisite, len(c.Items)),
		dependents: make(map[string][]string),
		topoIndex:  make(map[string]int, len(c.Items)),
		importance: make(map[string]float64, len(c.Topics)),
		banks:      make(map[string]QuestionBank, len(c.QuestionBanks)),
	}

	for i := range g.items {
		g.byID[g.items[i].ID] = &g.items[i]
	}
	for _, t := range c.Topics {
		g.topics[t.ID] = t
		g.topicOrder = append(g.topicOrder, t.ID)
	}
	for _, b := range c.QuestionBanks {
		g.banks[b.SubjectArea] = b
	}

	for _, it := range g.items {
		if it.CourseID != "" {
			g.byCourse[it.CourseID] = append(g.byCourse[it.CourseID], it.ID)
		}
		for _, topic := range it.Topics {
			g.byTopic[topic] = append(g.byTopic[topic], it.ID)
		}
		g.effective[it.ID] = g.buildEffective(it)
	}

	// Reverse edges over effective prerequisites, plus child → course so
	// that finishing a course's last child re-evaluates the course.
	for _, it := range g.items {
		for _, p := range g.effective[it.ID] {
			g.dependents[p.ContentID] = appendUnique(g.dependents[p.ContentID], it.ID)
		}
		if it.CourseID != "" {
			g.dependents[it.ID] = appendUnique(g.dependents[it.ID], it.CourseID)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	g.buildTopoOrder()
	g.buildImportance()

	for course := range g.byCourse {
		ids := g.byCourse[course]
		sort.Slice(ids, func(i, j int) bool { return g.topoIndex[ids[i]] < g.topoIndex[ids[j]] })
	}
	for topic := range g.byTopic {
		ids := g.byTopic[topic]
		sort.Slice(ids, func(i, j int) bool { return g.topoIndex[ids[i]] < g.topoIndex[ids[j]] })
	}

	return g, nil
}

// buildEffective merges an item's own prerequisites with its course's.
// When both name the same item the stricter min score wins.
func (g *Graph) buildEffective(it Item) []Prerequisite {
	merged := make(map[string]Prerequisite)
	var order []string
	add := func(p Prerequisite) {
		cur, ok := merged[p.ContentID]
		if !ok {
			merged[p.ContentID] = p
			order = append(order, p.ContentID)
			return
		}
		if p.MinScore != nil && (cur.MinScore == nil || *p.MinScore > *cur.MinScore) {
			merged[p.ContentID] = p
		}
	}
	for _, p := range it.Prerequisites {
		add(p)
	}
	if course, ok := g.byID[it.CourseID]; ok && it.CourseID != "" {
		for _, p := range course.Prerequisites {
			add(p)
		}
	}
	out := make([]Prerequisite, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out
}

// buildTopoOrder runs Kahn's algorithm over the effective edges with a
// sorted ready queue for deterministic output.
func (g *Graph) buildTopoOrder() {
	inDegree := make(map[string]int, len(g.items))
	for _, it := range g.items {
		inDegree[it.ID] = len(g.effective[it.ID])
	}
	for _, it := range g.items {
		if it.CourseID != "" {
			inDegree[it.CourseID]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.topoIndex[id] = len(g.topoOrder)
		g.topoOrder = append(g.topoOrder, id)

		var ready []string
		for _, dep := range g.dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}
}

// buildImportance weights each topic by how many items directly require an
// item tagged with it, log-scaled into [1, 2].
func (g *Graph) buildImportance() {
	counts := make(map[string]int, len(g.topics))
	maxCount := 0
	for topic, ids := range g.byTopic {
		downstream := make(map[string]bool)
		for _, id := range ids {
			for _, dep := range g.dependents[id] {
				if g.byID[dep].Type == TypeCourse && g.byID[id].CourseID == dep {
					continue
				}
				downstream[dep] = true
			}
		}
		counts[topic] = len(downstream)
		maxCount = max(maxCount, len(downstream))
	}
	for id := range g.topics {
		w := 1.0
		if maxCount > 0 {
			w += math.Log1p(float64(counts[id])) / math.Log1p(float64(maxCount))
		}
		g.importance[id] = w
	}
}

// Version returns the catalog version string.
func (g *Graph) Version() string { return g.version }

// Item returns an item by ID or a not-found error.
func (g *Graph) Item(id string) (Item, error) {
	it, ok := g.byID[id]
	if !ok {
		return Item{}, apperr.NotFound("content", id)
	}
	return *it, nil
}

// Has reports whether id names an item.
func (g *Graph) Has(id string) bool {
	_, ok := g.byID[id]
	return ok
}

// Items returns every item in topological order.
func (g *Graph) Items() []Item {
	out := make([]Item, 0, len(g.topoOrder))
	for _, id := range g.topoOrder {
		out = append(out, *g.byID[id])
	}
	return out
}

// Prerequisites returns the effective prerequisite edges for an item: its
// own plus those inherited from its course.
func (g *Graph) Prerequisites(id string) []Prerequisite {
	return slices.Clone(g.effective[id])
}

// Dependents returns IDs of items whose gating directly involves id, sorted.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// CourseItems returns the children of a course in topological order.
func (g *Graph) CourseItems(courseID string) []Item {
	ids := g.byCourse[courseID]
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, *g.byID[id])
	}
	return out
}

// ItemsByTopic returns items tagged with topic in topological order.
func (g *Graph) ItemsByTopic(topic string) []Item {
	ids := g.byTopic[topic]
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, *g.byID[id])
	}
	return out
}

// Topic returns a topic by ID.
func (g *Graph) Topic(id string) (Topic, bool) {
	t, ok := g.topics[id]
	return t, ok
}

// Topics returns all topics in catalog order.
func (g *Graph) Topics() []Topic {
	out := make([]Topic, 0, len(g.topicOrder))
	for _, id := range g.topicOrder {
		out = append(out, g.topics[id])
	}
	return out
}

// SubjectTopics returns the topics of one subject area in catalog order.
func (g *Graph) SubjectTopics(subjectArea string) []Topic {
	var out []Topic
	for _, id := range g.topicOrder {
		if t := g.topics[id]; t.SubjectArea == subjectArea {
			out = append(out, t)
		}
	}
	return out
}

// TopicImportance returns the topic's weight in [1, 2]. Unknown topics weigh 1.
func (g *Graph) TopicImportance(topic string) float64 {
	if w, ok := g.importance[topic]; ok {
		return w
	}
	return 1
}

// TopoIndex returns the item's position in the topological order, or -1.
func (g *Graph) TopoIndex(id string) int {
	if i, ok := g.topoIndex[id]; ok {
		return i
	}
	return -1
}

// QuestionBank returns the bank for a subject area.
func (g *Graph) QuestionBank(subjectArea string) (QuestionBank, bool) {
	b, ok := g.banks[subjectArea]
	return b, ok
}

// Question looks a bank question up by ID across all banks.
func (g *Graph) Question(id string) (Question, bool) {
	for _, b := range g.banks {
		for _, q := range b.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// Satisfied reports whether a prerequisite edge passes given the prerequisite
// item's completion and best score.
func (p Prerequisite) Satisfied(completed bool, score *float64) bool {
	if !completed {
		return false
	}
	if p.MinScore == nil {
		return true
	}
	return score != nil && *score >= *p.MinScore
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
