package timelock

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FutureAccessError reports a temporal field ahead of the simulated clock
// found inside data meant for an agent.
type FutureAccessError struct {
	Path  string
	Value time.Time
	Now   time.Time
}

func (e *FutureAccessError) Error() string {
	return fmt.Sprintf("future access at %s: %s is ahead of %s",
		e.Path, e.Value.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// VerifyNoFutureAccess walks data recursively and rejects any field whose
// name refers to a time or date and whose value lies beyond now. It accepts
// anything JSON-encodable; non-temporal fields are ignored.
func VerifyNoFutureAccess(data interface{}, now time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding data for barrier check: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decoding data for barrier check: %w", err)
	}
	return walk(decoded, "$", "", now)
}

func walk(node interface{}, path, field string, now time.Time) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if err := walk(child, path+"."+key, key, now); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, child := range v {
			if err := walk(child, fmt.Sprintf("%s[%d]", path, i), field, now); err != nil {
				return err
			}
		}
	case string:
		if !temporalField(field) {
			return nil
		}
		ts, ok := parseTime(v)
		if !ok {
			return nil
		}
		if ts.After(now) {
			return &FutureAccessError{Path: path, Value: ts, Now: now}
		}
	}
	return nil
}

// temporalField reports whether a field name denotes a point in time.
func temporalField(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "time") || strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at")
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
