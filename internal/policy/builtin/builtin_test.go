package builtin

import (
	"net/http"
	"net/url"

	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/policy"
)

const securitySystem = fhir.DefaultSecuritySystem

func fakeRequest(method, path string) *policy.Request {
	return &policy.Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

func labeledResource(resourceType, id, code string) map[string]any {
	return map[string]any{
		"resourceType": resourceType,
		"id":           id,
		"meta": map[string]any{
			"security": []any{
				map[string]any{
					"system":  securitySystem,
					"code":    code,
					"display": "Access restricted to " + code,
				},
			},
		},
	}
}

func bundleOf(entries ...map[string]any) map[string]any {
	wrapped := make([]any, 0, len(entries))
	for _, resource := range entries {
		wrapped = append(wrapped, map[string]any{"resource": resource})
	}
	return map[string]any{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(wrapped),
		"entry":        wrapped,
	}
}
