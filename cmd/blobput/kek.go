package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"

	"github.com/stratoblob/stratoblob-go/internal/config"
	"github.com/stratoblob/stratoblob-go/pkg/encryption"
	"github.com/stratoblob/stratoblob-go/pkg/encryption/keywrap"
)

// buildKEK constructs the key encryption key from the configuration.
func buildKEK(cfg *config.EncryptionConfig) (encryption.KeyWrapper, error) {
	switch cfg.KEKType {
	case "aes":
		key, err := readKeyFile(cfg.AESKeyFile)
		if err != nil {
			return nil, err
		}
		return keywrap.NewAESKeyWrapper(key, cfg.KeyID)

	case "rsa":
		pubPEM, err := os.ReadFile(cfg.RSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read RSA public key: %w", err)
		}
		var privPEM []byte
		if cfg.RSAPrivateKeyFile != "" {
			privPEM, err = os.ReadFile(cfg.RSAPrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read RSA private key: %w", err)
			}
		}
		return keywrap.NewRSAKeyWrapperFromPEM(string(pubPEM), string(privPEM), cfg.KeyID)

	case "tink":
		f, err := os.Open(cfg.TinkKeysetFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open Tink keyset: %w", err)
		}
		defer f.Close()
		handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
		if err != nil {
			return nil, fmt.Errorf("failed to read Tink keyset: %w", err)
		}
		return keywrap.NewTinkKeyWrapper(handle, cfg.KeyID)

	case "passphrase":
		salt, err := os.ReadFile(cfg.SaltFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}
		return keywrap.NewPassphraseKeyWrapper(cfg.Passphrase, bytes.TrimSpace(salt))
	}

	return nil, fmt.Errorf("unknown kek_type %q", cfg.KEKType)
}

// readKeyFile loads a 32-byte AES key stored either raw or base64
// encoded, the format keygen emits.
func readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		return decoded, nil
	}
	return trimmed, nil
}
