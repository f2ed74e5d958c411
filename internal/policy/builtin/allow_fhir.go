package builtin

import (
	"strings"

	"github.com/l0p7/fhirgate/internal/policy"
)

// AllowFHIR opens the gate for /fhir/ paths. Access control on those paths is
// the job of the security transformers; this rule only lets the request reach
// them.
func AllowFHIR() policy.Module {
	return policy.Module{
		Name:   "10_allow_fhir",
		Source: "builtin",
		Evaluate: func(req *policy.Request, _ policy.Claims) (any, error) {
			if strings.HasPrefix(req.Path, "/fhir/") {
				return "allow", nil
			}
			return nil, nil
		},
	}
}
