package builtin

import (
	"github.com/l0p7/fhirgate/internal/policy"
)

// DefaultDeny rejects every request that reaches it. It sorts last so any
// request no earlier rule allowed is denied explicitly rather than falling
// through undecided.
func DefaultDeny() policy.Module {
	return policy.Module{
		Name:   "99_default_deny",
		Source: "builtin",
		Evaluate: func(_ *policy.Request, _ policy.Claims) (any, error) {
			return []any{"deny", "Request denied by default policy - no matching rule found"}, nil
		},
	}
}
