package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/stratoblob/stratoblob-go/pkg/encryption/keywrap"
)

func main() {
	key, err := keywrap.GenerateAESKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}

	salt, err := keywrap.GenerateSalt()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating salt: %v\n", err)
		os.Exit(1)
	}

	keyBase64 := base64.StdEncoding.EncodeToString(key)
	saltBase64 := base64.StdEncoding.EncodeToString(salt)

	fmt.Printf("Generated AES-256 key encryption key (base64 encoded):\n%s\n", keyBase64)
	fmt.Printf("\nStore it in a file and reference it from your configuration:\n")
	fmt.Printf("encryption:\n  kek_type: aes\n  aes_key_file: /path/to/kek.b64\n")
	fmt.Printf("\nGenerated passphrase salt (base64 encoded, for kek_type \"passphrase\"):\n%s\n", saltBase64)
}
