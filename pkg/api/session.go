package api

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// SessionMetadata describes how and when a session was started.
type SessionMetadata struct {
	StartedAt     time.Time
	Version       string
	Mode          string
	Features      []string // set semantics, kept sorted
	TotalSections int

	// EstimatedTimeRemaining is nil when no estimate is available.
	EstimatedTimeRemaining *time.Duration
}

// HasFeature reports whether the named feature is enabled for the session.
func (m SessionMetadata) HasFeature(name string) bool {
	_, found := slices.BinarySearch(m.Features, name)
	return found
}

type sessionMetadataJSON struct {
	StartedAt              time.Time `json:"startedAt"`
	Version                string    `json:"version"`
	Mode                   string    `json:"mode"`
	Features               []string  `json:"features"`
	TotalSections          int       `json:"totalSections"`
	EstimatedTimeRemaining *int64    `json:"estimatedTimeRemaining,omitempty"` // milliseconds
}

func (m SessionMetadata) MarshalJSON() ([]byte, error) {
	out := sessionMetadataJSON{
		StartedAt:     m.StartedAt.UTC(),
		Version:       m.Version,
		Mode:          m.Mode,
		Features:      NormalizeFeatures(m.Features),
		TotalSections: m.TotalSections,
	}
	if m.EstimatedTimeRemaining != nil {
		ms := m.EstimatedTimeRemaining.Milliseconds()
		out.EstimatedTimeRemaining = &ms
	}
	return json.Marshal(out)
}

func (m *SessionMetadata) UnmarshalJSON(data []byte) error {
	var in sessionMetadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = SessionMetadata{
		StartedAt:     in.StartedAt,
		Version:       in.Version,
		Mode:          in.Mode,
		Features:      NormalizeFeatures(in.Features),
		TotalSections: in.TotalSections,
	}
	if in.EstimatedTimeRemaining != nil {
		d := time.Duration(*in.EstimatedTimeRemaining) * time.Millisecond
		m.EstimatedTimeRemaining = &d
	}
	return nil
}

// Session is the resumable state of one user's pass through a flow.
type Session struct {
	UserID               string           `json:"userId"`
	SessionID            string           `json:"sessionId"`
	Responses            map[string]Value `json:"responses"`
	CurrentSectionIndex  int              `json:"currentSectionIndex"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	Progress             float64          `json:"progress"`
	LastSavedAt          time.Time        `json:"lastSavedAt"`
	Metadata             SessionMetadata  `json:"metadata"`
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Responses = maps.Clone(s.Responses)
	if c.Responses == nil {
		c.Responses = make(map[string]Value)
	}
	c.Metadata.Features = slices.Clone(s.Metadata.Features)
	if s.Metadata.EstimatedTimeRemaining != nil {
		d := *s.Metadata.EstimatedTimeRemaining
		c.Metadata.EstimatedTimeRemaining = &d
	}
	return &c
}

// Response returns the stored answer for a question, or Null.
func (s *Session) Response(questionID string) Value {
	if s == nil || s.Responses == nil {
		return Null()
	}
	return s.Responses[questionID]
}

// ClampProgress bounds a percentage to [0, 100].
func ClampProgress(pct float64) float64 {
	switch {
	case pct != pct: // NaN
		return 0
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// NormalizeFeatures returns a sorted, de-duplicated copy of features
// with empty names removed.
func NormalizeFeatures(features []string) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		if f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
