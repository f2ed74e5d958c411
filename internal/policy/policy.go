package policy

import (
	"net/http"
	"net/url"
	"strings"
)

// Claims is the verified JWT payload handed to policy modules. It is nil for
// requests that never passed verification; modules must tolerate that.
type Claims map[string]any

// Subject returns the sub claim, or "" when absent or not a string.
func (c Claims) Subject() string {
	if c == nil {
		return ""
	}
	sub, _ := c["sub"].(string)
	return sub
}

// UserIdentifier derives the audit identity for the caller: email, falling
// back to preferred_username, falling back to sub.
func (c Claims) UserIdentifier() string {
	if c == nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "sub"} {
		if v, ok := c[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Request is the policy-facing view of one inbound HTTP request. Body holds
// the parsed JSON object when the payload belongs to the JSON media family
// and decodes to an object; RawBody always carries the original bytes.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	RawBody []byte
	Body    map[string]any
	IsJSON  bool
}

// EvaluateFunc is a decision capability: it receives the request and claims
// and returns a loose verdict adapted by AdaptVerdict. A returned error is
// logged by the engine and treated as Undecided.
type EvaluateFunc func(req *Request, claims Claims) (any, error)

// TransformFunc is a transform capability over a request or response body.
// Returning nil signals no change (request side) or no claim (response side);
// a non-nil return must be a fresh value, never a mutated input. A returned
// error is logged by the engine and treated as nil.
type TransformFunc func(req *Request, body map[string]any, claims Claims) (map[string]any, error)

// Module is one loaded unit of policy logic. Any subset of the three
// capabilities may be present.
type Module struct {
	Name              string
	Source            string
	Evaluate          EvaluateFunc
	TransformRequest  TransformFunc
	TransformResponse TransformFunc
}

// HasCapability reports whether the module exports at least one capability.
func (m Module) HasCapability() bool {
	return m.Evaluate != nil || m.TransformRequest != nil || m.TransformResponse != nil
}

// DecisionRule is a registry view entry pairing a decision capability with
// the module name it came from.
type DecisionRule struct {
	Name     string
	Evaluate EvaluateFunc
}

// RequestTransformer is a registry view entry for a request-side transform.
type RequestTransformer struct {
	Name      string
	Transform TransformFunc
}

// ResponseTransformer is a registry view entry for a response-side transform.
type ResponseTransformer struct {
	Name      string
	Transform TransformFunc
}

// CELContext renders the request as the activation map exposed to CEL rule
// files. Query and header values are flattened to their first value with
// lowercased header names.
func (r *Request) CELContext() map[string]any {
	query := make(map[string]any, len(r.Query))
	for name, values := range r.Query {
		if len(values) == 0 {
			continue
		}
		query[name] = values[0]
	}
	headers := make(map[string]any, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.Path,
		"query":   query,
		"headers": headers,
	}
}
