package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petrijr/questflow/pkg/api"
)

var errInvalidSession = errors.New("session: stored copy is incomplete")

// Encode serializes s as JSON text with RFC 3339 timestamps.
//
// If the full session cannot be encoded (for example a NaN slipped into a
// response), Encode falls back to a minimal copy holding identity,
// position, progress and metadata with no responses. fallback reports
// whether that happened. An error is returned only if even the minimal
// copy cannot be encoded.
func Encode(s *api.Session) (data string, fallback bool, err error) {
	if s == nil {
		return "", false, errors.New("session: nil session")
	}
	b, fullErr := json.Marshal(s)
	if fullErr == nil {
		return string(b), false, nil
	}

	b, err = json.Marshal(minimal(s))
	if err != nil {
		return "", true, fmt.Errorf("encode minimal session: %w (full encode: %v)", err, fullErr)
	}
	return string(b), true, nil
}

func minimal(s *api.Session) *api.Session {
	return &api.Session{
		UserID:               s.UserID,
		SessionID:            s.SessionID,
		Responses:            map[string]api.Value{},
		CurrentSectionIndex:  s.CurrentSectionIndex,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		Progress:             api.ClampProgress(s.Progress),
		LastSavedAt:          s.LastSavedAt,
		Metadata:             s.Metadata,
	}
}

// Decode parses a stored copy. Copies without an identity are rejected so
// that a truncated or foreign value is treated like corruption.
func Decode(data string) (*api.Session, error) {
	var s api.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	if s.UserID == "" || s.SessionID == "" {
		return nil, errInvalidSession
	}
	if s.Responses == nil {
		s.Responses = make(map[string]api.Value)
	}
	s.Progress = api.ClampProgress(s.Progress)
	return &s, nil
}
