package builtin

import (
	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/policy"
)

// FHIRResponseSecurity enforces read access on GET responses. Bundles keep
// only the entries whose resource carries the caller's ownership label, with
// total updated and type preserved. A single resource passes through when it
// carries the label and is withheld (nil, leading to suppression) when it
// does not. Callers without a sub claim see empty Bundles and no single
// resources at all.
func FHIRResponseSecurity(securitySystem string) policy.Module {
	return policy.Module{
		Name:   "51_fhir_response_security",
		Source: "builtin",
		TransformResponse: func(req *policy.Request, body map[string]any, claims policy.Claims) (map[string]any, error) {
			if req.Method != "GET" {
				return nil, nil
			}

			sub := claims.Subject()
			if sub == "" {
				if fhir.IsBundle(body) {
					return fhir.EmptiedBundle(body), nil
				}
				return nil, nil
			}

			if fhir.IsBundle(body) {
				return filterBundle(body, securitySystem, sub), nil
			}

			if fhir.IsResource(body) {
				if fhir.HasSecurityLabel(body, securitySystem, sub) {
					return body, nil
				}
				return nil, nil
			}

			return nil, nil
		},
	}
}

// filterBundle returns a copy of the bundle retaining only entries whose
// resource carries the caller's label. Entries that are not objects are kept
// untouched.
func filterBundle(bundle map[string]any, securitySystem, sub string) map[string]any {
	entries, ok := bundle["entry"].([]any)
	if !ok {
		return bundle
	}

	filtered, _ := fhir.DeepCopy(bundle).(map[string]any)
	kept := make([]any, 0, len(entries))
	for _, entry := range fhir.Entries(filtered) {
		entryObj, isObj := entry.(map[string]any)
		if !isObj {
			kept = append(kept, entry)
			continue
		}
		resource, _ := entryObj["resource"].(map[string]any)
		if fhir.HasSecurityLabel(resource, securitySystem, sub) {
			kept = append(kept, entry)
		}
	}
	filtered["entry"] = kept
	filtered["total"] = len(kept)
	return filtered
}
