package journey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one recorded user interaction.
type Event struct {
	ID        string         `json:"id,omitempty"`
	EventType string         `json:"eventType"`
	UserType  string         `json:"userType"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	Path      string         `json:"path,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	IsDivine  bool           `json:"isDivine,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Field names as they appear on the wire.
const (
	FieldEventType = "eventType"
	FieldUserType  = "userType"
	FieldSessionID = "sessionId"
	FieldTimestamp = "timestamp"
)

// ErrMissingFields is wrapped by MissingFieldsError.
var ErrMissingFields = errors.New("missing required fields")

// MissingFieldsError names the absent fields in request order.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error { return ErrMissingFields }

// Require checks that the named fields are set.
func (ev *Event) Require(fields ...string) error {
	var missing []string
	for _, f := range fields {
		if !ev.has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

func (ev *Event) has(field string) bool {
	switch field {
	case FieldEventType:
		return strings.TrimSpace(ev.EventType) != ""
	case FieldUserType:
		return strings.TrimSpace(ev.UserType) != ""
	case FieldSessionID:
		return strings.TrimSpace(ev.SessionID) != ""
	case FieldTimestamp:
		return !ev.Timestamp.IsZero()
	}
	panic(fmt.Sprintf("journey: unknown field %q", field))
}

// Resolve implements filter.Resolver. Metadata is reachable as
// metadata.<key>[.<key>...].
func (ev *Event) Resolve(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	if len(path) > 1 {
		if path[0] != "metadata" || ev.Metadata == nil {
			return nil, false
		}
		return resolveMap(ev.Metadata, path[1:])
	}
	switch path[0] {
	case "id":
		return ev.ID, ev.ID != ""
	case FieldEventType:
		return ev.EventType, true
	case FieldUserType:
		return ev.UserType, true
	case FieldSessionID:
		return ev.SessionID, true
	case "userId":
		return ev.UserID, ev.UserID != ""
	case "path":
		return ev.Path, ev.Path != ""
	case "userAgent":
		return ev.UserAgent, ev.UserAgent != ""
	case "isDivine":
		return ev.IsDivine, true
	}
	return nil, false
}

func resolveMap(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return resolveMap(sub, path[1:])
}
