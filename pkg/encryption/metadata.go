package encryption

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Encryption protocol versions. Unknown versions are rejected at decrypt
// time; a future protocol must never be silently accepted.
const (
	// ProtocolV1 is AES-CBC-256 with PKCS#7 padding on the final block.
	ProtocolV1 = "1.0"

	// ProtocolV2 is AES-GCM-256 over fixed-size authenticated regions.
	ProtocolV2 = "2.0"
)

// Payload encryption algorithm identifiers recorded in metadata.
const (
	AlgorithmAESCBC256 = "AES_CBC_256"
	AlgorithmAESGCM256 = "AES_GCM_256"
)

// GCM region layout, fixed protocol parameters for v2. They are recorded
// in metadata so a decrypter can locate nonce and tag boundaries without
// renegotiation.
const (
	GCMRegionDataLength = 4 * 1024 * 1024
	GCMNonceLength      = 12
	GCMTagLength        = 16
)

// MetadataKey is the conventional object-metadata key under which the
// JSON-serialized EncryptionData travels alongside the ciphertext.
const MetadataKey = "stratoblob-encryption"

var (
	// ErrUnsupportedVersion is returned when metadata names a protocol
	// other than 1.0 or 2.0.
	ErrUnsupportedVersion = errors.New("unsupported encryption version")

	// ErrMissingMetadata is returned when metadata lacks a field the
	// detected protocol mandates.
	ErrMissingMetadata = errors.New("missing required metadata for decryption")
)

// WrappedContentKey carries the CEK encrypted under the caller's KEK.
// EncryptedKey serializes as base64.
type WrappedContentKey struct {
	KeyID        string `json:"KeyId"`
	EncryptedKey []byte `json:"EncryptedKey"`
	Algorithm    string `json:"Algorithm"`
}

// EncryptionAgent identifies the protocol version and payload algorithm.
type EncryptionAgent struct {
	Protocol            string `json:"Protocol"`
	EncryptionAlgorithm string `json:"EncryptionAlgorithm"`
}

// EncryptedRegionInfo records the v2 region layout.
type EncryptedRegionInfo struct {
	DataLength  int `json:"EncryptedRegionDataLength"`
	NonceLength int `json:"NonceLength"`
	TagLength   int `json:"TagLength"`
}

// EncryptionData is the on-the-wire metadata contract of this layer. It is
// created once per upload, serialized to JSON as object metadata, and
// consumed once at download time to reconstruct the key material.
//
// Exactly one of ContentEncryptionIV (v1) and EncryptedRegionInfo (v2) is
// present; never both absent.
type EncryptionData struct {
	WrappedContentKey   WrappedContentKey    `json:"WrappedContentKey"`
	EncryptionAgent     EncryptionAgent      `json:"EncryptionAgent"`
	ContentEncryptionIV []byte               `json:"ContentEncryptionIV,omitempty"`
	EncryptedRegionInfo *EncryptedRegionInfo `json:"EncryptedRegionInfo,omitempty"`
	KeyWrappingMetadata map[string]string    `json:"KeyWrappingMetadata,omitempty"`
}

// Validate checks that the metadata is complete for its protocol.
func (ed *EncryptionData) Validate() error {
	switch ed.EncryptionAgent.Protocol {
	case ProtocolV1:
		if len(ed.ContentEncryptionIV) == 0 {
			return fmt.Errorf("%w: ContentEncryptionIV is required for protocol %s", ErrMissingMetadata, ProtocolV1)
		}
	case ProtocolV2:
		if ed.EncryptedRegionInfo == nil {
			return fmt.Errorf("%w: EncryptedRegionInfo is required for protocol %s", ErrMissingMetadata, ProtocolV2)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, ed.EncryptionAgent.Protocol)
	}

	if len(ed.WrappedContentKey.EncryptedKey) == 0 {
		return fmt.Errorf("%w: WrappedContentKey.EncryptedKey is empty", ErrMissingMetadata)
	}
	return nil
}

// Marshal serializes the metadata to its JSON object-metadata form.
func (ed *EncryptionData) Marshal() (string, error) {
	raw, err := json.Marshal(ed)
	if err != nil {
		return "", fmt.Errorf("failed to serialize encryption metadata: %w", err)
	}
	return string(raw), nil
}

// ParseEncryptionData deserializes and validates the JSON metadata stored
// alongside a ciphertext.
func ParseEncryptionData(raw string) (*EncryptionData, error) {
	var ed EncryptionData
	if err := json.Unmarshal([]byte(raw), &ed); err != nil {
		return nil, fmt.Errorf("failed to parse encryption metadata: %w", err)
	}
	if err := ed.Validate(); err != nil {
		return nil, err
	}
	return &ed, nil
}
