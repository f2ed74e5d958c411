package fhir

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DefaultSecuritySystem is the coding system URI used for per-user ownership
// labels unless overridden by configuration.
const DefaultSecuritySystem = "http://keycloak.cirg.uw.edu/fhir/security-labels"

// AbsentUnknownSystem marks resources that explicitly record the absence of
// data (for example "no known allergies") in IPS documents.
const AbsentUnknownSystem = "http://hl7.org/fhir/uv/ips/CodeSystem/absent-unknown-uv-ips"

// IsResource reports whether the value is a FHIR resource. Detection is
// structural: any JSON object carrying a resourceType field qualifies.
func IsResource(body any) bool {
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	_, ok = obj["resourceType"]
	return ok
}

// ResourceType returns the resourceType of a body, or "" when the body is not
// a resource or the field is not a string.
func ResourceType(body any) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	rt, _ := obj["resourceType"].(string)
	return rt
}

// IsBundle reports whether the body is a Bundle resource.
func IsBundle(body any) bool {
	return ResourceType(body) == "Bundle"
}

// BundleType returns the Bundle's type field, defaulting to "searchset" when
// missing or malformed.
func BundleType(bundle map[string]any) string {
	if t, ok := bundle["type"].(string); ok && t != "" {
		return t
	}
	return "searchset"
}

// Entries returns the Bundle's entry list, or nil when absent or malformed.
func Entries(bundle map[string]any) []any {
	entries, _ := bundle["entry"].([]any)
	return entries
}

// EntryResource returns the resource nested in a Bundle entry, or nil.
func EntryResource(entry any) map[string]any {
	obj, ok := entry.(map[string]any)
	if !ok {
		return nil
	}
	resource, _ := obj["resource"].(map[string]any)
	return resource
}

// SecurityLabels returns the meta.security list of a resource, tolerating
// malformed intermediate values by returning nil.
func SecurityLabels(resource map[string]any) []any {
	meta, ok := resource["meta"].(map[string]any)
	if !ok {
		return nil
	}
	labels, _ := meta["security"].([]any)
	return labels
}

// HasSecurityLabel reports whether the resource carries a security label with
// the given system and code.
func HasSecurityLabel(resource map[string]any, system, code string) bool {
	if resource == nil || code == "" {
		return false
	}
	for _, label := range SecurityLabels(resource) {
		obj, ok := label.(map[string]any)
		if !ok {
			continue
		}
		if obj["system"] == system && obj["code"] == code {
			return true
		}
	}
	return false
}

// ApplySecurityLabel sets the resource's ownership label for the given system:
// any existing label in that system is removed and a single fresh label is
// appended. The resource is modified in place; callers hand over copies.
// Malformed meta or security values are replaced with well-formed ones.
func ApplySecurityLabel(resource map[string]any, system, code, display string) {
	meta, ok := resource["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		resource["meta"] = meta
	}
	labels, ok := meta["security"].([]any)
	if !ok {
		labels = []any{}
	}
	kept := make([]any, 0, len(labels)+1)
	for _, label := range labels {
		obj, isObj := label.(map[string]any)
		if !isObj {
			continue
		}
		if obj["system"] == system {
			continue
		}
		kept = append(kept, label)
	}
	kept = append(kept, map[string]any{
		"system":  system,
		"code":    code,
		"display": display,
	})
	meta["security"] = kept
}

// HasAbsentUnknownCoding reports whether the resource's code.coding contains
// an entry in the absent-unknown coding system.
func HasAbsentUnknownCoding(resource map[string]any) bool {
	if resource == nil {
		return false
	}
	code, ok := resource["code"].(map[string]any)
	if !ok {
		return false
	}
	coding, ok := code["coding"].([]any)
	if !ok {
		return false
	}
	for _, c := range coding {
		obj, isObj := c.(map[string]any)
		if !isObj {
			continue
		}
		if obj["system"] == AbsentUnknownSystem {
			return true
		}
	}
	return false
}

// EmptiedBundle returns a copy of the bundle with no entries and a zero total.
// The bundle's type and remaining fields are preserved.
func EmptiedBundle(bundle map[string]any) map[string]any {
	emptied, _ := DeepCopy(bundle).(map[string]any)
	if emptied == nil {
		emptied = map[string]any{"resourceType": "Bundle", "type": BundleType(bundle)}
	}
	emptied["entry"] = []any{}
	emptied["total"] = 0
	return emptied
}

// DeepCopy returns a structurally independent copy of a decoded JSON value.
// Scalars, including json.Number, are shared as-is.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// IsJSONMediaType reports whether a Content-Type value belongs to the JSON
// family understood by the proxy: application/json, application/*+json, any
// type containing json+fhir, and any type ending in +fhir.
func IsJSONMediaType(contentType string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case mediaType == "application/json":
		return true
	case strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"):
		return true
	case strings.Contains(mediaType, "json+fhir"):
		return true
	case strings.HasSuffix(mediaType, "+fhir"):
		return true
	}
	return false
}

// DecodeJSON parses a JSON document preserving number literals via
// json.Number, so re-encoding a transformed body does not mangle numerics.
func DecodeJSON(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}
