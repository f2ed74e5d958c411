package builtin

import (
	"strings"

	"github.com/l0p7/fhirgate/internal/policy"
)

// AllowWellKnown admits discovery requests: any path starting with
// /.well-known or containing a /.well-known/ segment is allowed, everything
// else is left undecided.
func AllowWellKnown() policy.Module {
	return policy.Module{
		Name:   "00_allow_well_known",
		Source: "builtin",
		Evaluate: func(req *policy.Request, _ policy.Claims) (any, error) {
			if strings.HasPrefix(req.Path, "/.well-known") || strings.Contains(req.Path, "/.well-known/") {
				return "allow", nil
			}
			return nil, nil
		},
	}
}
