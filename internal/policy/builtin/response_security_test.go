package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/policy"
)

func TestResponseSecurityAllowsLabeledResource(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)
	claims := policy.Claims{"sub": "wahs-test-user-1", "email": "test@example.com"}
	resource := labeledResource("Patient", "123", "wahs-test-user-1")

	result, err := module.TransformResponse(fakeRequest("GET", "/fhir/Patient/123"), resource, claims)
	require.NoError(t, err)
	require.Equal(t, resource, result)
}

func TestResponseSecurityWithholdsForeignResource(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)
	claims := policy.Claims{"sub": "wahs-test-user-1"}

	foreign := labeledResource("Patient", "123", "wahs-other-user")
	result, err := module.TransformResponse(fakeRequest("GET", "/fhir/Patient/123"), foreign, claims)
	require.NoError(t, err)
	require.Nil(t, result)

	unlabeled := map[string]any{"resourceType": "Patient", "id": "123"}
	result, err = module.TransformResponse(fakeRequest("GET", "/fhir/Patient/123"), unlabeled, claims)
	require.NoError(t, err)
	require.Nil(t, result, "resources without labels are never accessible")
}

func TestResponseSecurityFiltersBundle(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)
	claims := policy.Claims{"sub": "wahs-test-user-1"}

	bundle := bundleOf(
		labeledResource("Patient", "1", "wahs-test-user-1"),
		labeledResource("Patient", "2", "wahs-other-user"),
		labeledResource("Patient", "3", "wahs-test-user-1"),
	)

	result, err := module.TransformResponse(fakeRequest("GET", "/fhir/Patient"), bundle, claims)
	require.NoError(t, err)
	require.NotNil(t, result)

	entries := fhir.Entries(result)
	require.Len(t, entries, 2)
	require.Equal(t, "1", fhir.EntryResource(entries[0])["id"])
	require.Equal(t, "3", fhir.EntryResource(entries[1])["id"])
	require.Equal(t, 2, result["total"])
	require.Equal(t, "searchset", result["type"])

	require.Len(t, fhir.Entries(bundle), 3, "input bundle must not be mutated")
}

func TestResponseSecurityEmptiesBundleWithoutSub(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)

	bundle := bundleOf(labeledResource("Patient", "1", "u1"))
	result, err := module.TransformResponse(fakeRequest("GET", "/fhir/Patient"), bundle, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, fhir.Entries(result))
	require.Equal(t, 0, result["total"])
	require.Equal(t, "searchset", result["type"])

	resource := labeledResource("Patient", "1", "u1")
	result, err = module.TransformResponse(fakeRequest("GET", "/fhir/Patient/1"), resource, policy.Claims{"email": "x@y.z"})
	require.NoError(t, err)
	require.Nil(t, result, "single resources suppress without a sub claim")
}

func TestResponseSecurityIgnoresNonGETAndNonFHIR(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)
	claims := policy.Claims{"sub": "u1"}

	resource := labeledResource("Patient", "1", "u1")
	result, err := module.TransformResponse(fakeRequest("POST", "/fhir/Patient"), resource, claims)
	require.NoError(t, err)
	require.Nil(t, result)

	plain := map[string]any{"status": "ok"}
	result, err = module.TransformResponse(fakeRequest("GET", "/fhir/metadata"), plain, claims)
	require.NoError(t, err)
	require.Nil(t, result, "non-FHIR bodies are left to the engine's pass-through")
}

func TestResponseSecurityPreservesBundleType(t *testing.T) {
	module := FHIRResponseSecurity(securitySystem)
	claims := policy.Claims{"sub": "u1"}

	bundle := bundleOf(labeledResource("Observation", "1", "u2"))
	bundle["type"] = "transaction-response"

	result, err := module.TransformResponse(fakeRequest("GET", "/fhir/Observation"), bundle, claims)
	require.NoError(t, err)
	require.Equal(t, "transaction-response", result["type"])
	require.Equal(t, 0, result["total"])
	require.Empty(t, fhir.Entries(result))
}
