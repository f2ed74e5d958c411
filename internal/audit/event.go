// Package audit records one structured event per mutating request the proxy
// forwards. Emission is best effort: failures are logged and swallowed, never
// surfaced to the caller.
package audit

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// EventVersion tags the event schema for downstream consumers.
const EventVersion = "1"

// Event is the wire shape sent to the log server. Tags carry the resource
// type and HTTP method; Subject is a Patient reference when the target is a
// Patient with a known id; Resource carries the full body when one was
// available.
type Event struct {
	Message      string         `json:"message"`
	EventVersion string         `json:"event_version"`
	Tags         []string       `json:"tags"`
	User         string         `json:"user"`
	Subject      string         `json:"subject,omitempty"`
	Resource     map[string]any `json:"resource,omitempty"`
	Params       url.Values     `json:"params,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// fhirPath extracts the resource type and optional id from proxied URLs of
// the form /fhir/{ResourceType}/{id}.
var fhirPath = regexp.MustCompile(`^/fhir/([A-Za-z]+)(?:/([A-Za-z0-9._-]+))?`)

// NewEvent builds the audit record for one mutating forward. Resource type
// and id come from the body when present, falling back to the URL.
func NewEvent(method, path string, params url.Values, body map[string]any, user string) Event {
	resourceType, resourceID := "", ""
	if match := fhirPath.FindStringSubmatch(path); match != nil {
		resourceType = match[1]
		resourceID = match[2]
	}
	if body != nil {
		if rt, ok := body["resourceType"].(string); ok && rt != "" {
			resourceType = rt
		}
		if id, ok := body["id"].(string); ok && id != "" {
			resourceID = id
		}
	}

	message := method
	if resourceType != "" {
		message = fmt.Sprintf("%s %s", method, resourceType)
		if resourceID != "" {
			message = fmt.Sprintf("%s %s/%s", method, resourceType, resourceID)
		}
	}

	event := Event{
		Message:      message,
		EventVersion: EventVersion,
		Tags:         []string{resourceType, method},
		User:         user,
		Resource:     body,
		Timestamp:    time.Now().UTC(),
	}
	if len(params) > 0 {
		event.Params = params
	}
	if resourceType == "Patient" && resourceID != "" {
		event.Subject = "Patient/" + resourceID
	}
	return event
}
