package builtin

import (
	"github.com/l0p7/fhirgate/internal/policy"
)

// Modules returns the shipped policy set in canonical precedence order. The
// numeric name prefixes are load-bearing: the registry sorts modules
// byte-wise by name, and later rules only run when earlier ones stay
// undecided. securitySystem is the coding system URI used for ownership
// labels.
func Modules(securitySystem string) []policy.Module {
	return []policy.Module{
		AllowWellKnown(),
		AllowPatientSummary(securitySystem),
		AllowFHIR(),
		FHIRRequestSecurity(securitySystem),
		FHIRResponseSecurity(securitySystem),
		DefaultDeny(),
	}
}
