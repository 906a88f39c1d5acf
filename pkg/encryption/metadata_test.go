package encryption

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCBCData() *EncryptionData {
	return &EncryptionData{
		WrappedContentKey: WrappedContentKey{
			KeyID:        "kek-1",
			EncryptedKey: []byte("wrapped"),
			Algorithm:    "A256GCMKW",
		},
		EncryptionAgent:     EncryptionAgent{Protocol: ProtocolV1, EncryptionAlgorithm: AlgorithmAESCBC256},
		ContentEncryptionIV: make([]byte, 16),
	}
}

func TestEncryptionData_JSONFieldNames(t *testing.T) {
	ed := validCBCData()
	ed.KeyWrappingMetadata = map[string]string{"EncryptionLibrary": "stratoblob-go"}

	raw, err := ed.Marshal()
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Contains(t, m, "WrappedContentKey")
	assert.Contains(t, m, "EncryptionAgent")
	assert.Contains(t, m, "ContentEncryptionIV")
	assert.Contains(t, m, "KeyWrappingMetadata")
	assert.NotContains(t, m, "EncryptedRegionInfo")

	wck := m["WrappedContentKey"].(map[string]interface{})
	assert.Equal(t, "kek-1", wck["KeyId"])
	assert.Equal(t, "A256GCMKW", wck["Algorithm"])
	// []byte fields serialize as base64.
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("wrapped")), wck["EncryptedKey"])

	agent := m["EncryptionAgent"].(map[string]interface{})
	assert.Equal(t, "1.0", agent["Protocol"])
	assert.Equal(t, "AES_CBC_256", agent["EncryptionAlgorithm"])
}

func TestEncryptionData_GCMFieldNames(t *testing.T) {
	ed := &EncryptionData{
		WrappedContentKey: WrappedContentKey{KeyID: "k", EncryptedKey: []byte("w"), Algorithm: "a"},
		EncryptionAgent:   EncryptionAgent{Protocol: ProtocolV2, EncryptionAlgorithm: AlgorithmAESGCM256},
		EncryptedRegionInfo: &EncryptedRegionInfo{
			DataLength:  GCMRegionDataLength,
			NonceLength: GCMNonceLength,
			TagLength:   GCMTagLength,
		},
	}

	raw, err := ed.Marshal()
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	info := m["EncryptedRegionInfo"].(map[string]interface{})
	assert.Equal(t, float64(GCMRegionDataLength), info["EncryptedRegionDataLength"])
	assert.Equal(t, float64(12), info["NonceLength"])
	assert.Equal(t, float64(16), info["TagLength"])
}

func TestEncryptionData_RoundTrip(t *testing.T) {
	ed := validCBCData()
	raw, err := ed.Marshal()
	require.NoError(t, err)

	got, err := ParseEncryptionData(raw)
	require.NoError(t, err)
	assert.Equal(t, ed, got)
}

func TestEncryptionData_UnsupportedVersion(t *testing.T) {
	ed := validCBCData()
	ed.EncryptionAgent.Protocol = "3.0"

	err := ed.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestEncryptionData_MissingRequiredFields(t *testing.T) {
	// CBC without an IV.
	ed := validCBCData()
	ed.ContentEncryptionIV = nil
	assert.ErrorIs(t, ed.Validate(), ErrMissingMetadata)

	// GCM without region info.
	ed = validCBCData()
	ed.EncryptionAgent.Protocol = ProtocolV2
	ed.ContentEncryptionIV = nil
	assert.ErrorIs(t, ed.Validate(), ErrMissingMetadata)

	// No wrapped key at all.
	ed = validCBCData()
	ed.WrappedContentKey.EncryptedKey = nil
	assert.ErrorIs(t, ed.Validate(), ErrMissingMetadata)
}

func TestParseEncryptionData_Invalid(t *testing.T) {
	_, err := ParseEncryptionData("{not json")
	assert.Error(t, err)

	_, err = ParseEncryptionData(`{"EncryptionAgent":{"Protocol":"9.9"}}`)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
