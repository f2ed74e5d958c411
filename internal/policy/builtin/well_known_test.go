package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/fhirgate/internal/policy"
)

func TestAllowWellKnownPaths(t *testing.T) {
	module := AllowWellKnown()
	require.Equal(t, "00_allow_well_known", module.Name)

	allowed := []string{
		"/.well-known",
		"/.well-known/smart-configuration",
		"/fhir/.well-known/smart-configuration",
	}
	for _, path := range allowed {
		result, err := module.Evaluate(fakeRequest("GET", path), nil)
		require.NoError(t, err)
		require.Equal(t, policy.Allow, policy.AdaptVerdict(result).Outcome, "path %s", path)
	}

	undecided := []string{"/", "/fhir/Patient/1", "/well-known"}
	for _, path := range undecided {
		result, err := module.Evaluate(fakeRequest("GET", path), nil)
		require.NoError(t, err)
		require.Equal(t, policy.Undecided, policy.AdaptVerdict(result).Outcome, "path %s", path)
	}
}
