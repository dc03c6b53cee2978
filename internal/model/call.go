package model

import (
	"encoding/json"
	"reflect"
	"time"
)

// ArtifactPlan carries recording-related call settings.
type ArtifactPlan struct {
	VideoRecordingEnabled bool `json:"videoRecordingEnabled,omitempty"`
}

// Call is the descriptor returned when a voice call is created.
type Call struct {
	ID           string          `json:"id,omitempty"`
	WebCallURL   string          `json:"webCallUrl,omitempty"`
	ArtifactPlan *ArtifactPlan   `json:"artifactPlan,omitempty"`
	Assistant    json.RawMessage `json:"assistant,omitempty"`
}

// StoredCallSession is the persisted reconnection record for an in-progress
// voice call. Timestamp is milliseconds since epoch, matching the storage
// layout shared with other widget clients.
type StoredCallSession struct {
	WebCallURL   string          `json:"webCallUrl"`
	ID           string          `json:"id,omitempty"`
	ArtifactPlan *ArtifactPlan   `json:"artifactPlan,omitempty"`
	Assistant    json.RawMessage `json:"assistant,omitempty"`
	CallOptions  interface{}     `json:"callOptions,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// Age returns how long ago the record was written.
func (s *StoredCallSession) Age() time.Duration {
	return time.Since(time.UnixMilli(s.Timestamp))
}

// CallOptionsEqual reports whether two call-option values are the same by
// deep value comparison. Options round-trip through JSON so that values that
// took different paths (decoded from storage vs. built in memory) compare by
// structure rather than by Go type.
func CallOptionsEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	na, err := normalizeJSON(a)
	if err != nil {
		return false
	}
	nb, err := normalizeJSON(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalizeJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
