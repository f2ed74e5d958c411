package builtin

import (
	"regexp"

	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/policy"
)

// patientOperationPath matches the Patient $summary and $everything
// operation endpoints, whose Bundles mix resources the caller owns with
// document scaffolding they need to see.
var patientOperationPath = regexp.MustCompile(`^/fhir/Patient/[^/]+/\$(summary|everything)$`)

// AllowPatientSummary relaxes response filtering for Patient $summary and
// $everything Bundles. Its numeric prefix sorts it ahead of the strict
// response security module, so it claims those responses first. Retained
// entries are Compositions, resources carrying the caller's ownership label,
// and resources explicitly coded absent-unknown ("no known allergies" and
// friends). All other requests are left to the rest of the chain.
func AllowPatientSummary(securitySystem string) policy.Module {
	return policy.Module{
		Name:   "05_allow_patient_summary",
		Source: "builtin",
		TransformResponse: func(req *policy.Request, body map[string]any, claims policy.Claims) (map[string]any, error) {
			if req.Method != "GET" {
				return nil, nil
			}
			if !patientOperationPath.MatchString(req.Path) {
				return nil, nil
			}
			if !fhir.IsBundle(body) {
				return nil, nil
			}

			sub := claims.Subject()
			if sub == "" {
				return fhir.EmptiedBundle(body), nil
			}

			if _, ok := body["entry"].([]any); !ok {
				return nil, nil
			}

			filtered, _ := fhir.DeepCopy(body).(map[string]any)
			entries := fhir.Entries(filtered)
			kept := make([]any, 0, len(entries))
			for _, entry := range entries {
				entryObj, isObj := entry.(map[string]any)
				if !isObj {
					kept = append(kept, entry)
					continue
				}
				resource, _ := entryObj["resource"].(map[string]any)
				if summaryAllowed(resource, securitySystem, sub) {
					kept = append(kept, entry)
				}
			}
			filtered["entry"] = kept
			filtered["total"] = len(kept)
			return filtered, nil
		},
	}
}

// summaryAllowed applies the relaxed retention rule for Patient operation
// Bundles.
func summaryAllowed(resource map[string]any, securitySystem, sub string) bool {
	if fhir.ResourceType(resource) == "Composition" {
		return true
	}
	if fhir.HasSecurityLabel(resource, securitySystem, sub) {
		return true
	}
	return fhir.HasAbsentUnknownCoding(resource)
}
