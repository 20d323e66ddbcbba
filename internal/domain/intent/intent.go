// Package intent holds the structured fields the assistant extracts from
// free-form query text.
package intent

import "strings"

// Intent carries the service and location the assistant understood from
// the user's query. Either field may be empty.
type Intent struct {
	Service  string
	Location string
}

// Acknowledge derives a short confirmation line from an extracted intent,
// falling back to the given location when the intent has none. It returns
// an empty string when neither a service nor a location is available and
// is safe to call with a nil intent.
func Acknowledge(in *Intent, fallbackLocation string) string {
	var service, location string
	if in != nil {
		service = strings.TrimSpace(in.Service)
		location = strings.TrimSpace(in.Location)
	}
	if location == "" {
		location = strings.TrimSpace(fallbackLocation)
	}

	parts := make([]string, 0, 2)
	if service != "" {
		parts = append(parts, "service "+service)
	}
	if location != "" {
		parts = append(parts, "location "+location)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Understood: " + strings.Join(parts, ", ")
}
