package storage

import "context"

// ProfileStorage stores the owner profile used by networked commands.
type ProfileStorage interface {
	// SaveProfile stores the profile, replacing the previous one
	SaveProfile(ctx context.Context, profile *Profile) error

	// GetProfile returns ErrProfileNotFound if no profile exists
	GetProfile(ctx context.Context) (*Profile, error)

	// DeleteProfile removes stored profile (logout)
	DeleteProfile(ctx context.Context) error
}

// Profile identifies the library owner on this device.
// AccessToken is an owner bearer token issued by the server operator.
type Profile struct {
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name"`
	AccessToken string `json:"access_token"`
	ServerURL   string `json:"server_url"`
}
