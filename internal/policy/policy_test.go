package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/abhisek/pathwise/internal/apperr"
)

func TestCheck(t *testing.T) {
	student := Actor{UserID: "s1", Role: RoleStudent}
	instructor := Actor{UserID: "i1", Role: RoleInstructor}
	admin := Actor{UserID: "a1", Role: RoleAdmin}

	tests := []struct {
		name    string
		actor   Actor
		op      Operation
		owner   string
		allowed bool
	}{
		{"student reads own profile", student, OpReadProfile, "s1", true},
		{"student reads other profile", student, OpReadProfile, "s2", false},
		{"student cannot block", student, OpBlock, "s1", false},
		{"instructor blocks", instructor, OpBlock, "s1", true},
		{"instructor reads any gaps", instructor, OpReadGaps, "s9", true},
		{"student regrade denied", student, OpRegradeAttempt, "s1", false},
		{"admin enrolls", admin, OpEnrollStudent, "", true},
		{"instructor cannot enroll", instructor, OpEnrollStudent, "", false},
		{"anonymous denied", Actor{}, OpReadProfile, "s1", false},
		{"unknown role denied", Actor{UserID: "x", Role: "guest"}, OpReadProfile, "x", false},
		{"unknown operation denied", admin, Operation("nope"), "", false},
		{"self rule needs owner", student, OpGenerateRecommend, "", false},
		{"student creates placement assessment", student, OpCreateInitial, "", true},
		{"instructor creates placement assessment", instructor, OpCreateInitial, "", true},
		{"anonymous cannot create placement assessment", Actor{}, OpCreateInitial, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.actor, tt.op, tt.owner)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindPermissionDenied), "got %v", err)
		})
	}
}

func TestTableCoversEveryOperation(t *testing.T) {
	for op, rule := range Table {
		assert.NotEmpty(t, rule.Roles, "operation %s has no roles", op)
	}
}
