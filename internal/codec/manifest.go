package codec

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/iudanet/chordkeeper/internal/models"
)

// EncodeManifest сериализует манифест в JSON и сжимает snappy.
// Манифест передается только по каналу сессии, в дескриптор он не попадает.
func EncodeManifest(m models.Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if m == nil {
		m = models.Manifest{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	return snappy.Encode(nil, data), nil
}

// DecodeManifest reverses EncodeManifest and validates the result.
func DecodeManifest(data []byte) (models.Manifest, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress manifest: %w", err)
	}

	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return m, nil
}
