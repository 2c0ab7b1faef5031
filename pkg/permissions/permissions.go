// Package permissions decides whether an actor may read, modify, execute or
// delete a rule, combining role shortcuts with the rule's own access lists.
package permissions

import (
	"slices"

	"github.com/tracewatch/sentinel/pkg/models"
)

// Operation is one of the four independently controlled rule operations.
type Operation string

const (
	OperationRead    Operation = "read"
	OperationWrite   Operation = "write"
	OperationExecute Operation = "execute"
	OperationDelete  Operation = "delete"
)

// Role grants blanket capabilities independent of per-rule lists.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleReadOnly Role = "read_only"
)

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// wildcard grants an operation to every actor when present in its list.
const wildcard = "*"

// Checker evaluates rule permissions.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

// Allowed reports whether the actor may perform the operation on the rule.
// Admins bypass the lists entirely; read-only roles never get write, execute
// or delete. The rule's creator always keeps full access. An empty list
// leaves the operation open to members.
func (c *Checker) Allowed(actor Actor, rule *models.Rule, op Operation) bool {
	if actor.Role == RoleAdmin {
		return true
	}

	if actor.Role == RoleReadOnly && op != OperationRead {
		return false
	}

	if rule.CreatedBy != "" && actor.ID == rule.CreatedBy {
		return true
	}

	list := listFor(rule, op)
	if len(list) == 0 {
		return true
	}

	return slices.Contains(list, wildcard) || slices.Contains(list, actor.ID)
}

func listFor(rule *models.Rule, op Operation) []string {
	switch op {
	case OperationRead:
		return rule.Permissions.Read
	case OperationWrite:
		return rule.Permissions.Write
	case OperationExecute:
		return rule.Permissions.Execute
	case OperationDelete:
		return rule.Permissions.Delete
	default:
		return nil
	}
}
