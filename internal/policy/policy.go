// Package policy decides whether an actor may perform an operation. Every
// capability lives in one table keyed by operation.
package policy

import (
	"slices"

	"github.com/abhisek/pathwise/internal/apperr"
)

// Role is the caller's role as asserted by the upstream identity layer.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleInstructor || r == RoleAdmin
}

// Actor identifies who is calling.
type Actor struct {
	UserID string
	Role   Role
}

// Operation names a guarded engine operation.
type Operation string

const (
	OpCheckAccess         Operation = "progression.can_access"
	OpUpdateProgress      Operation = "progression.update_progress"
	OpBlock               Operation = "progression.block"
	OpUnblock             Operation = "progression.unblock"
	OpResetProgress       Operation = "progression.reset"
	OpCourseOverview      Operation = "progression.course_overview"
	OpAnalyzeGaps         Operation = "gaps.analyze"
	OpReadProfile         Operation = "gaps.read_profile"
	OpReadGaps            Operation = "gaps.read_gaps"
	OpCreateInitial       Operation = "assessment.create_initial"
	OpGeneratePersonal    Operation = "assessment.generate_personalized"
	OpSubmitAttempt       Operation = "assessment.submit_attempt"
	OpRegradeAttempt      Operation = "assessment.regrade"
	OpAuthorQuestions     Operation = "assessment.author"
	OpRecordInteractions  Operation = "engagement.record"
	OpReadEngagement      Operation = "engagement.analyze"
	OpGenerateRecommend   Operation = "recommend.generate"
	OpRecommendFeedback   Operation = "recommend.feedback"
	OpExplainRecommend    Operation = "recommend.explain"
	OpGenerateRoadmap     Operation = "roadmap.generate"
	OpReadRoadmap         Operation = "roadmap.read"
	OpSetRoadmapStatus    Operation = "roadmap.set_status"
	OpAnalyzeContent      Operation = "analysis.analyze_content"
	OpEnrollStudent       Operation = "students.enroll"
)

// Rule grants an operation to a set of roles. When Self is true, a student
// may also act on records they own.
type Rule struct {
	Roles []Role
	Self  bool
}

var (
	staff  = []Role{RoleInstructor, RoleAdmin}
	anyone = []Role{RoleStudent, RoleInstructor, RoleAdmin}
)

// Table is the capability table consulted by Check.
var Table = map[Operation]Rule{
	OpCheckAccess:        {Roles: staff, Self: true},
	OpUpdateProgress:     {Roles: staff, Self: true},
	OpBlock:              {Roles: staff},
	OpUnblock:            {Roles: staff},
	OpResetProgress:      {Roles: staff},
	OpCourseOverview:     {Roles: staff, Self: true},
	OpAnalyzeGaps:        {Roles: staff, Self: true},
	OpReadProfile:        {Roles: staff, Self: true},
	OpReadGaps:           {Roles: staff, Self: true},
	OpCreateInitial:      {Roles: anyone},
	OpGeneratePersonal:   {Roles: staff, Self: true},
	OpSubmitAttempt:      {Roles: staff, Self: true},
	OpRegradeAttempt:     {Roles: staff},
	OpAuthorQuestions:    {Roles: staff},
	OpRecordInteractions: {Roles: staff, Self: true},
	OpReadEngagement:     {Roles: staff, Self: true},
	OpGenerateRecommend:  {Roles: staff, Self: true},
	OpRecommendFeedback:  {Roles: staff, Self: true},
	OpExplainRecommend:   {Roles: staff, Self: true},
	OpGenerateRoadmap:    {Roles: staff, Self: true},
	OpReadRoadmap:        {Roles: staff, Self: true},
	OpSetRoadmapStatus:   {Roles: staff, Self: true},
	OpAnalyzeContent:     {Roles: staff},
	OpEnrollStudent:      {Roles: []Role{RoleAdmin}},
}

// Check returns nil when actor may perform op on a record owned by ownerID.
// ownerID is empty for operations not scoped to one student.
func Check(actor Actor, op Operation, ownerID string) error {
	if actor.UserID == "" || !actor.Role.Valid() {
		return apperr.PermissionDenied("unauthenticated caller")
	}
	rule, ok := Table[op]
	if !ok {
		return apperr.PermissionDenied("operation %q is not permitted", op)
	}
	if slices.Contains(rule.Roles, actor.Role) {
		return nil
	}
	if rule.Self && actor.Role == RoleStudent && ownerID != "" && ownerID == actor.UserID {
		return nil
	}
	return apperr.PermissionDenied("%s %q may not perform %s", actor.Role, actor.UserID, op)
}
