package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/chordkeeper/internal/models"
)

// Kind тип кадра канала сессии
type Kind string

const (
	KindPresence        Kind = "presence"
	KindManifestRequest Kind = "manifest-request"
	KindManifest        Kind = "manifest"
	KindContentRequest  Kind = "content-request"
	KindContentResponse Kind = "content-response"
	KindState           Kind = "state"
	KindStateSnapshot   Kind = "state-snapshot"
	KindEndedByHost     Kind = "ended-by-host"
)

var (
	ErrUnknownKind = errors.New("unknown frame kind")
	ErrMalformed   = errors.New("malformed frame")
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindPresence, KindManifestRequest, KindManifest, KindContentRequest,
		KindContentResponse, KindState, KindStateSnapshot, KindEndedByHost:
		return true
	}
	return false
}

// Envelope is one frame of the session channel.
type Envelope struct {
	Kind Kind            `json:"k"`
	Body json.RawMessage `json:"b,omitempty"`
}

// Presence announces a participant. Guests of a password protected session
// put their password proof here.
type Presence struct {
	Participant models.Participant `json:"participant"`
	Proof       string             `json:"proof,omitempty"`
}

// ManifestFrame carries a snappy compressed manifest (see EncodeManifest).
type ManifestFrame struct {
	Data []byte `json:"data"`
}

// ContentRequest запрос тела песни у хоста
type ContentRequest struct {
	ID string `json:"id"`
}

// ContentResponse ответ хоста; Found=false значит, что тела нет или доступ запрещен
type ContentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content,omitempty"`
	Found   bool   `json:"found"`
}

// State is one ephemeral state change, for now the transpose of a song.
// Version orders writes of the host; older versions are ignored.
type State struct {
	SongID    string `json:"song_id"`
	Semitones int    `json:"semitones"`
	Version   int64  `json:"v"`
}

// StateSnapshot is the full ephemeral state, sent to a guest after it joins.
type StateSnapshot struct {
	Entries []State `json:"entries"`
}

// EndedByHost завершает участие гостя в сессии
type EndedByHost struct {
	Reason string `json:"reason,omitempty"`
}

// Encode wraps body into an envelope of the given kind.
func Encode(kind Kind, body any) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	env := Envelope{Kind: kind}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", kind, err)
		}
		env.Body = raw
	}

	return json.Marshal(env)
}

// DecodeEnvelope parses a frame and rejects unknown kinds.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return &env, nil
}

// DecodeBody unmarshals the envelope body into v.
func (e *Envelope) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("%w: %s frame without body", ErrMalformed, e.Kind)
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformed, e.Kind, err)
	}
	return nil
}
