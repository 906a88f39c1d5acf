// Package config loads and validates the blobput configuration from a
// YAML file and STRATOBLOB_-prefixed environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/stratoblob/stratoblob-go/pkg/checksum"
	"github.com/stratoblob/stratoblob-go/pkg/encryption"
)

// S3Config holds the destination store connection settings.
type S3Config struct {
	Endpoint           string `mapstructure:"endpoint"`
	Region             string `mapstructure:"region"`
	AccessKeyID        string `mapstructure:"access_key_id"`
	SecretKey          string `mapstructure:"secret_key"`
	Bucket             string `mapstructure:"bucket"`
	UsePathStyle       bool   `mapstructure:"use_path_style"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"` // Only for development/testing
}

// TransferConfig holds the chunking and parallelism settings.
type TransferConfig struct {
	ChunkSize        int    `mapstructure:"chunk_size"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	Checksum         string `mapstructure:"checksum"` // "none", "md5" or "crc64"
	CleanupOnFailure bool   `mapstructure:"cleanup_on_failure"`
}

// EncryptionConfig holds the client-side envelope encryption settings.
type EncryptionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Protocol string `mapstructure:"protocol"` // "1.0" (CBC) or "2.0" (GCM)

	// KEKType selects how the key encryption key is supplied:
	// "aes" (raw key file), "rsa" (PEM key pair), "tink" (local keyset)
	// or "passphrase" (derived key).
	KEKType string `mapstructure:"kek_type"`
	KeyID   string `mapstructure:"key_id"`

	AESKeyFile        string `mapstructure:"aes_key_file"`
	RSAPublicKeyFile  string `mapstructure:"rsa_public_key_file"`
	RSAPrivateKeyFile string `mapstructure:"rsa_private_key_file"`
	TinkKeysetFile    string `mapstructure:"tink_keyset_file"`
	Passphrase        string `mapstructure:"passphrase"`
	SaltFile          string `mapstructure:"salt_file"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// Config holds the application configuration
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" (default) or "json"

	S3         S3Config         `mapstructure:"s3"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".stratoblob")
	}

	viper.SetEnvPrefix("STRATOBLOB")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.use_path_style", false)
	viper.SetDefault("s3.insecure_skip_verify", false)

	viper.SetDefault("transfer.chunk_size", 8*1024*1024)
	viper.SetDefault("transfer.max_concurrency", 4)
	viper.SetDefault("transfer.checksum", string(checksum.ModeCRC64))
	viper.SetDefault("transfer.cleanup_on_failure", false)

	viper.SetDefault("encryption.enabled", false)
	viper.SetDefault("encryption.protocol", encryption.ProtocolV2)
	viper.SetDefault("encryption.kek_type", "aes")

	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	if cfg.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive")
	}
	if err := checksum.Mode(cfg.Transfer.Checksum).Validate(); err != nil {
		return fmt.Errorf("transfer.checksum: %w", err)
	}
	if checksum.Mode(cfg.Transfer.Checksum) == checksum.ModeMD5 && cfg.Transfer.MaxConcurrency > 1 {
		return fmt.Errorf("transfer.checksum \"md5\" requires transfer.max_concurrency of 1")
	}

	if cfg.Encryption.Enabled {
		if err := validateEncryption(&cfg.Encryption); err != nil {
			return err
		}
	}

	return nil
}

func validateEncryption(enc *EncryptionConfig) error {
	switch enc.Protocol {
	case encryption.ProtocolV1, encryption.ProtocolV2:
	default:
		return fmt.Errorf("encryption.protocol must be %q or %q, got %q",
			encryption.ProtocolV1, encryption.ProtocolV2, enc.Protocol)
	}

	switch enc.KEKType {
	case "aes":
		if enc.AESKeyFile == "" {
			return fmt.Errorf("encryption.aes_key_file is required for kek_type \"aes\"")
		}
	case "rsa":
		if enc.RSAPublicKeyFile == "" {
			return fmt.Errorf("encryption.rsa_public_key_file is required for kek_type \"rsa\"")
		}
	case "tink":
		if enc.TinkKeysetFile == "" {
			return fmt.Errorf("encryption.tink_keyset_file is required for kek_type \"tink\"")
		}
		if enc.KeyID == "" {
			return fmt.Errorf("encryption.key_id is required for kek_type \"tink\"")
		}
	case "passphrase":
		if enc.Passphrase == "" {
			return fmt.Errorf("encryption.passphrase is required for kek_type \"passphrase\"")
		}
		if enc.SaltFile == "" {
			return fmt.Errorf("encryption.salt_file is required for kek_type \"passphrase\"")
		}
	default:
		return fmt.Errorf("unknown encryption.kek_type %q", enc.KEKType)
	}

	return nil
}
