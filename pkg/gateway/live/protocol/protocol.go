// Package protocol defines the JSON envelope spoken on the live coaching
// WebSocket and the tagged-union parse applied to every inbound frame.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// Version is the envelope contract spoken by this server.
const Version = "1"

// SupportsVersion reports whether a client-requested protocol version can be
// served.
func SupportsVersion(v string) bool {
	return strings.TrimSpace(v) == Version
}

// Envelope types.
const (
	TypeAudio      = "audio"
	TypeTranscript = "transcript"
	TypeSuggestion = "suggestion"
	TypeObjection  = "objection"
	TypeKnowledge  = "knowledge"
	TypeError      = "error"
	TypeStatus     = "status"
)

// Error codes carried by server error envelopes.
const (
	CodeInvalidJSON         = "invalid_json"
	CodeMissingType         = "missing_type"
	CodeUnsupportedType     = "unsupported_type"
	CodeInvalidPayload      = "invalid_payload"
	CodeSessionMismatch     = "session_mismatch"
	CodeTranscriptionFailed = "transcription_failed"
	CodeRepeatedFailures    = "repeated_transcription_failures"
	CodeShuttingDown        = "shutting_down"
)

func knownType(t string) bool {
	switch t {
	case TypeAudio, TypeTranscript, TypeSuggestion, TypeObjection, TypeKnowledge, TypeError, TypeStatus:
		return true
	default:
		return false
	}
}

// MalformedControlMessage is a non-fatal parse failure. It is echoed to the
// client as an error envelope and the connection stays open.
type MalformedControlMessage struct {
	Code    string
	Message string
	Param   string
}

func (e *MalformedControlMessage) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func malformed(code, message, param string) *MalformedControlMessage {
	return &MalformedControlMessage{Code: code, Message: message, Param: param}
}

// ClientEnvelope is an inbound control message. Timestamp is accepted in
// any JSON form and not interpreted.
type ClientEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// FrameKind tags the result of ParseFrame.
type FrameKind int

const (
	FrameControl FrameKind = iota + 1
	FrameAudio
)

func (k FrameKind) String() string {
	switch k {
	case FrameControl:
		return "control"
	case FrameAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Frame is one parsed inbound WebSocket message.
type Frame struct {
	Kind FrameKind
	// Control is set for FrameControl.
	Control *ClientEnvelope
	// Audio is set for FrameAudio, whether it arrived as a binary frame or
	// as a base64 audio envelope.
	Audio []byte
	// SessionID is the sessionId the client stamped on the envelope, if any.
	SessionID string
}

// ParseFrame classifies an inbound message. JSON is attempted first: a
// frame that decodes to an envelope with a known type is a control message.
// Binary frames that do not decode are audio, so payloads that happen to
// start with '{' are never misread. Text frames are never audio; a text
// frame that does not decode is a MalformedControlMessage.
func ParseFrame(binary bool, data []byte) (Frame, error) {
	env, perr := decodeEnvelope(data)
	if binary {
		if perr != nil || !knownType(env.Type) {
			return Frame{Kind: FrameAudio, Audio: data}, nil
		}
	} else if perr != nil {
		return Frame{}, perr
	}

	switch env.Type {
	case TypeAudio:
		audio, err := decodeAudioPayload(env.Payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameAudio, Audio: audio, SessionID: env.SessionID}, nil
	case TypeStatus:
		return Frame{Kind: FrameControl, Control: env, SessionID: env.SessionID}, nil
	case TypeTranscript, TypeSuggestion, TypeObjection, TypeKnowledge, TypeError:
		return Frame{}, malformed(CodeUnsupportedType, "message type is server-to-client only", "type")
	default:
		return Frame{}, malformed(CodeUnsupportedType, "unsupported message type", "type")
	}
}

func decodeEnvelope(data []byte) (*ClientEnvelope, *MalformedControlMessage) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, malformed(CodeInvalidJSON, "invalid json frame", "")
	}
	var env ClientEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, malformed(CodeInvalidJSON, "invalid json frame", "")
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return nil, malformed(CodeMissingType, "missing type", "type")
	}
	env.SessionID = strings.TrimSpace(env.SessionID)
	return &env, nil
}

// decodeAudioPayload accepts either a bare base64 string or {"data": "..."}.
func decodeAudioPayload(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed(CodeInvalidPayload, "audio.payload is required", "payload")
	}
	var b64 string
	if err := json.Unmarshal(raw, &b64); err != nil {
		var obj struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, malformed(CodeInvalidPayload, "audio.payload must be a base64 string", "payload")
		}
		b64 = obj.Data
	}
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, malformed(CodeInvalidPayload, "audio.payload is required", "payload")
	}
	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, malformed(CodeInvalidPayload, "audio.payload is not valid base64", "payload")
	}
	return audio, nil
}

// ServerEnvelope is every server-to-client push.
type ServerEnvelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusPayload struct {
	Status  types.SessionStatus `json:"status"`
	Message string              `json:"message,omitempty"`
	// Protocol is set on the first frame of a connection only.
	Protocol string `json:"protocol,omitempty"`
}

type TranscriptPayload struct {
	ID      string        `json:"id"`
	Speaker types.Speaker `json:"speaker"`
	Text    string        `json:"text"`
}

type SuggestionPayload struct {
	ID       string               `json:"id"`
	Type     types.SuggestionType `json:"type"`
	Priority types.Priority       `json:"priority"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	Resolved bool                 `json:"resolved"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func Status(sessionID string, status types.SessionStatus, message string, now time.Time) ServerEnvelope {
	return ServerEnvelope{
		Type:      TypeStatus,
		Payload:   StatusPayload{Status: status, Message: message},
		SessionID: sessionID,
		Timestamp: now.UTC(),
	}
}

// Connected is the first frame on every accepted connection.
func Connected(sessionID string, status types.SessionStatus, now time.Time) ServerEnvelope {
	env := Status(sessionID, status, "connected", now)
	env.Payload = StatusPayload{Status: status, Message: "connected", Protocol: Version}
	return env
}

func Transcript(t types.Transcript) ServerEnvelope {
	return ServerEnvelope{
		Type:      TypeTranscript,
		Payload:   TranscriptPayload{ID: t.ID, Speaker: t.Speaker, Text: t.Text},
		SessionID: t.SessionID,
		Timestamp: t.Timestamp.UTC(),
	}
}

func Suggestion(s types.Suggestion) ServerEnvelope {
	return ServerEnvelope{
		Type: TypeSuggestion,
		Payload: SuggestionPayload{
			ID:       s.ID,
			Type:     s.Type,
			Priority: s.Priority,
			Title:    s.Title,
			Body:     s.Body,
			Resolved: s.Resolved,
		},
		SessionID: s.SessionID,
		Timestamp: s.Timestamp.UTC(),
	}
}

func Error(sessionID, code, message, param string, now time.Time) ServerEnvelope {
	return ServerEnvelope{
		Type:      TypeError,
		Payload:   ErrorPayload{Code: code, Message: message, Param: param},
		SessionID: sessionID,
		Timestamp: now.UTC(),
	}
}

// ErrorFrom renders a parse failure as an error envelope.
func ErrorFrom(sessionID string, m *MalformedControlMessage, now time.Time) ServerEnvelope {
	return Error(sessionID, m.Code, m.Message, m.Param, now)
}
