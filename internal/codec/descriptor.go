// Package codec encodes the session descriptor shared out of band and the
// frames exchanged on the peer channel.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/chordkeeper/internal/models"
)

const (
	// DescriptorPrefix версия формата дескриптора
	DescriptorPrefix = "ck1."

	// MaxScannableBytes is the largest payload that still renders into a
	// reliably scannable code.
	MaxScannableBytes = 2048
)

var ErrInvalidDescriptor = errors.New("invalid session descriptor")

// EncodeDescriptor renders d as "ck1." followed by base64url of compact JSON.
func EncodeDescriptor(d *models.SessionDescriptor) (string, error) {
	if err := validateDescriptor(d); err != nil {
		return "", err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	return DescriptorPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeDescriptor parses a string produced by EncodeDescriptor.
func DecodeDescriptor(s string) (*models.SessionDescriptor, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(s), DescriptorPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format", ErrInvalidDescriptor)
	}

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	var d models.SessionDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := validateDescriptor(&d); err != nil {
		return nil, err
	}

	return &d, nil
}

func validateDescriptor(d *models.SessionDescriptor) error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: nil", ErrInvalidDescriptor)
	case d.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrInvalidDescriptor)
	case d.HostID == "":
		return fmt.Errorf("%w: missing host id", ErrInvalidDescriptor)
	case d.ConnectionInfo == "":
		return fmt.Errorf("%w: missing connection info", ErrInvalidDescriptor)
	case d.TransportKind == "":
		return fmt.Errorf("%w: missing transport kind", ErrInvalidDescriptor)
	}
	return nil
}

// SizeEstimate is the encoded size of a payload and whether it is too large
// for a scannable code.
type SizeEstimate struct {
	Bytes    int
	TooLarge bool
}

// EstimateEncodedSize reports how large payload becomes once encoded the way
// descriptors are. Callers use it to refuse embedding data that would not scan.
func EstimateEncodedSize(payload any) SizeEstimate {
	var n int
	switch p := payload.(type) {
	case string:
		n = len(p)
	case []byte:
		n = len(DescriptorPrefix) + base64.RawURLEncoding.EncodedLen(len(p))
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return SizeEstimate{TooLarge: true}
		}
		n = len(DescriptorPrefix) + base64.RawURLEncoding.EncodedLen(len(data))
	}
	return SizeEstimate{Bytes: n, TooLarge: n > MaxScannableBytes}
}
