package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stratoblob/stratoblob-go/internal/config"
	"github.com/stratoblob/stratoblob-go/internal/monitoring"
	"github.com/stratoblob/stratoblob-go/pkg/checksum"
	"github.com/stratoblob/stratoblob-go/pkg/transfer"
	s3transport "github.com/stratoblob/stratoblob-go/pkg/transport/s3"
)

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile     string
	contentType string
	objectKey   string

	rootCmd = &cobra.Command{
		Use:   "blobput <file>",
		Short: "blobput uploads large files as chunked, optionally encrypted objects",
		Long: `blobput uploads a local file to object storage using the chunked
transfer engine: the file is split into bounded chunks, uploaded with
configurable parallelism, validated with a combinable CRC64 checksum,
and optionally protected with client-side envelope encryption.

With encryption enabled, a fresh content encryption key is generated per
upload and wrapped with the configured key encryption key (a raw AES
key, an RSA key pair, a Tink keyset, or a passphrase-derived key). The
resulting envelope metadata is stored with the object, and the key
encryption key never leaves this machine.

All configuration is done through YAML configuration files. Use --config
to specify a configuration file, or blobput will look for configuration
in standard locations.`,
		Args: cobra.ExactArgs(1),
		Run:  runUpload,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
	rootCmd.Flags().StringVar(&objectKey, "key", "", "destination object key (default: file basename)")
	rootCmd.Flags().StringVar(&contentType, "content-type", "", "content type of the uploaded object")
}

func initConfig() {
	config.InitConfig(cfgFile)
}

func runUpload(cmd *cobra.Command, args []string) {
	logrus.WithFields(logrus.Fields{
		"version":   version,
		"commit":    commit,
		"buildTime": buildTime,
	}).Info("blobput build information")

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	monitoring.SetClientInfo(version, commit, buildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.Enabled {
		server := monitoring.NewServer(&monitoring.Config{
			BindAddress: cfg.Monitoring.BindAddress,
			MetricsPath: cfg.Monitoring.MetricsPath,
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				logrus.WithError(err).Error("Monitoring server failed")
			}
		}()
	}

	filePath := args[0]
	if objectKey == "" {
		objectKey = filepath.Base(filePath)
	}

	if err := upload(ctx, cfg, filePath, objectKey); err != nil {
		logrus.WithError(err).Fatal("Upload failed")
	}
}

func upload(ctx context.Context, cfg *config.Config, filePath, key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	totalSize := stat.Size()

	client, err := s3transport.NewClient(ctx, &s3transport.Config{
		Endpoint:         cfg.S3.Endpoint,
		Region:           cfg.S3.Region,
		AccessKeyID:      cfg.S3.AccessKeyID,
		SecretKey:        cfg.S3.SecretKey,
		UsePathStyle:     cfg.S3.UsePathStyle,
		DisableTLSVerify: cfg.S3.InsecureSkipVerify,
	})
	if err != nil {
		return err
	}

	dest, err := client.NewBlockDestination(ctx, cfg.S3.Bucket, key, s3transport.BlockDestinationOptions{
		ContentType: contentType,
	})
	if err != nil {
		return err
	}

	mode := checksum.Mode(cfg.Transfer.Checksum)
	uploader := transfer.NewBlockUploader(dest, transfer.BlockUploaderOptions{
		Checksum:    mode,
		ContentType: contentType,
	})

	opts := transfer.Options{
		ChunkSize:        cfg.Transfer.ChunkSize,
		MaxConcurrency:   cfg.Transfer.MaxConcurrency,
		Checksum:         mode,
		TotalSize:        totalSize,
		CleanupOnFailure: cfg.Transfer.CleanupOnFailure,
		Progress:         logProgress(totalSize),
	}

	strategy := "substream_blocks"
	if cfg.Encryption.Enabled {
		kek, err := buildKEK(&cfg.Encryption)
		if err != nil {
			return err
		}
		opts.Encryption = &transfer.EncryptionOptions{
			KEK:      kek,
			Protocol: cfg.Encryption.Protocol,
		}
		strategy = "data_chunks"
	}

	logrus.WithFields(logrus.Fields{
		"file":      filePath,
		"bucket":    cfg.S3.Bucket,
		"key":       key,
		"size":      totalSize,
		"encrypted": cfg.Encryption.Enabled,
		"strategy":  strategy,
	}).Info("Starting upload")

	start := time.Now()
	var result *transfer.UploadResult
	if strategy == "substream_blocks" {
		// Unencrypted file uploads stream windows of the file directly
		// so chunks are never fully buffered in memory.
		result, err = transfer.UploadSubStreamBlocks(ctx, file, totalSize, uploader, opts)
	} else {
		result, err = transfer.UploadDataChunks(ctx, file, uploader, opts)
	}
	duration := time.Since(start)

	recordMetrics(cfg, strategy, mode, result, duration, err)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"blocks":   len(result.BlockIDs),
		"bytes":    result.BytesUploaded,
		"duration": duration.Round(time.Millisecond).String(),
		"etag":     result.ResponseHeaders["etag"],
	}
	if result.CRC64 != nil {
		fields["crc64"] = fmt.Sprintf("%016x", *result.CRC64)
	}
	logrus.WithFields(fields).Info("Upload complete")
	return nil
}

func recordMetrics(cfg *config.Config, strategy string, mode checksum.Mode, result *transfer.UploadResult, duration time.Duration, err error) {
	var bytes int64
	var chunks int
	if result != nil {
		bytes = result.BytesUploaded
		chunks = len(result.BlockIDs)
	}
	monitoring.RecordUpload(strategy, bytes, chunks, duration, err)

	if cfg.Encryption.Enabled {
		status := "success"
		if err != nil {
			status = "error"
		}
		monitoring.EncryptionOperationsTotal.WithLabelValues(cfg.Encryption.Protocol, status).Inc()
	}
	if mode == checksum.ModeCRC64 && (err == nil || errors.Is(err, transfer.ErrChecksumMismatch)) {
		monitoring.RecordChecksumValidation(string(mode), err == nil)
	}
}

func logProgress(totalSize int64) transfer.ProgressFunc {
	logger := logrus.WithField("component", "progress")
	return func(done, total int64) {
		logger.WithFields(logrus.Fields{
			"bytesDone":  done,
			"totalBytes": total,
		}).Debug("Chunk completed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
