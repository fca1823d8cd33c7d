package models

import (
	"fmt"
	"time"
)

// TransportKind определяет реализацию peer-to-peer транспорта
type TransportKind string

const (
	TransportMemory TransportKind = "memory" // in-process сеть (тесты, демо)
	TransportRelay  TransportKind = "relay"  // WebSocket relay на сервере
)

// Role роль участника в сессии, фиксируется при создании/подключении
type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// SessionDescriptor is the small payload a guest needs to find and join a session.
// It is rendered into a scannable code, so it never carries the manifest.
type SessionDescriptor struct {
	CreatedAt       time.Time     `json:"c"`
	ExpiresAt       *time.Time    `json:"e,omitempty"`
	SessionID       string        `json:"s"`
	TransportKind   TransportKind `json:"t"`
	HostID          string        `json:"h"`
	HostDisplayName string        `json:"n"`
	ConnectionInfo  string        `json:"i"`           // ConnectionInfo непрозрачен для ядра, его понимает только транспорт
	PasswordSalt    string        `json:"p,omitempty"` // PasswordSalt соль argon2 для пароля сессии (base64url); ключ остается у хоста
}

// Expired reports whether the descriptor is past its expiry at now.
func (d *SessionDescriptor) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// RequiresPassword reports whether joining needs a session password.
func (d *SessionDescriptor) RequiresPassword() bool {
	return d.PasswordSalt != ""
}

// ManifestEntry is a summary of one shared song. Bodies are fetched lazily.
type ManifestEntry struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist,omitempty"`
	Key             string   `json:"key,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	InstrumentsUsed []string `json:"instruments_used,omitempty"`
	Tempo           int      `json:"tempo,omitempty"`
}

// Manifest is the song listing a host shares with its guests.
type Manifest []ManifestEntry

// Validate checks that every entry has an id and ids are unique.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m))
	for i, e := range m {
		if e.ID == "" {
			return fmt.Errorf("manifest entry %d has empty id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate manifest entry %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Contains reports whether the manifest lists id.
func (m Manifest) Contains(id string) bool {
	for _, e := range m {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the manifest.
func (m Manifest) Clone() Manifest {
	if m == nil {
		return nil
	}
	out := make(Manifest, len(m))
	for i, e := range m {
		e.Tags = cloneStrings(e.Tags)
		e.InstrumentsUsed = cloneStrings(e.InstrumentsUsed)
		out[i] = e
	}
	return out
}

// Participant describes a peer present in a session.
// ClientID is ephemeral and changes with every connection.
type Participant struct {
	ClientID        string   `json:"client_id"`
	DisplayName     string   `json:"display_name"`
	AvatarThumbnail string   `json:"avatar_thumbnail,omitempty"`
	Instruments     []string `json:"instruments,omitempty"`
	IsHost          bool     `json:"is_host"`
}

// Clone создает копию участника
func (p Participant) Clone() Participant {
	p.Instruments = cloneStrings(p.Instruments)
	return p
}
