package builtin

import (
	"fmt"
	"strings"

	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/policy"
)

// FHIRRequestSecurity stamps outbound POST/PUT bodies with the caller's
// ownership label: a single security label in the configured system whose
// code is the sub claim. Existing labels in that system are replaced; labels
// in other systems are preserved. Transaction Bundles are labeled per entry,
// but only entries that would write (POST/PUT). The incoming body is never
// mutated.
func FHIRRequestSecurity(securitySystem string) policy.Module {
	return policy.Module{
		Name:   "50_fhir_request_security",
		Source: "builtin",
		TransformRequest: func(req *policy.Request, body map[string]any, claims policy.Claims) (map[string]any, error) {
			if req.Method != "POST" && req.Method != "PUT" {
				return nil, nil
			}
			sub := claims.Subject()
			if sub == "" {
				return nil, nil
			}
			if !fhir.IsResource(body) {
				return nil, nil
			}
			display := fmt.Sprintf("Access restricted to %s", sub)

			if fhir.IsBundle(body) && body["type"] == "transaction" {
				raw, present := body["entry"]
				if _, isList := raw.([]any); isList || !present {
					labeled, _ := fhir.DeepCopy(body).(map[string]any)
					for _, entry := range fhir.Entries(labeled) {
						entryObj, isObj := entry.(map[string]any)
						if !isObj {
							continue
						}
						request, _ := entryObj["request"].(map[string]any)
						method, _ := request["method"].(string)
						if m := strings.ToUpper(method); m != "POST" && m != "PUT" {
							continue
						}
						resource, _ := entryObj["resource"].(map[string]any)
						if !fhir.IsResource(resource) {
							continue
						}
						fhir.ApplySecurityLabel(resource, securitySystem, sub, display)
					}
					return labeled, nil
				}
				// Malformed entry value: label the Bundle like any other resource.
			}

			labeled, _ := fhir.DeepCopy(body).(map[string]any)
			fhir.ApplySecurityLabel(labeled, securitySystem, sub, display)
			return labeled, nil
		},
	}
}
