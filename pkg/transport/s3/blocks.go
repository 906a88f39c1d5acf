package s3

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/stratoblob/stratoblob-go/pkg/transfer"
	"github.com/stratoblob/stratoblob-go/pkg/transport"
)

// BlockDestination is one in-progress multipart upload. It implements
// transport.BlockService and transport.Aborter: staged blocks become
// uploaded parts, the committed block list becomes the complete call.
type BlockDestination struct {
	client      *s3.Client
	bucket, key string
	uploadID    string
	contentType string
	logger      *logrus.Entry

	mu    sync.Mutex
	etags map[int32]string
}

// BlockDestinationOptions configures a new multipart upload.
type BlockDestinationOptions struct {
	ContentType string
}

// NewBlockDestination starts a multipart upload for one object.
func (c *Client) NewBlockDestination(ctx context.Context, bucket, key string, opts BlockDestinationOptions) (*BlockDestination, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	output, err := c.s3Client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload for %s/%s: %w", bucket, key, err)
	}

	uploadID := aws.ToString(output.UploadId)
	c.logger.WithFields(logrus.Fields{
		"bucket":   bucket,
		"key":      key,
		"uploadID": uploadID,
	}).Debug("Created multipart upload")

	return &BlockDestination{
		client:      c.s3Client,
		bucket:      bucket,
		key:         key,
		uploadID:    uploadID,
		contentType: opts.ContentType,
		logger:      c.logger.WithField("uploadID", uploadID),
		etags:       make(map[int32]string),
	}, nil
}

// StageBlock uploads one part. The part number is recovered from the
// block ID, which encodes the chunk index; S3 numbers parts from 1.
func (d *BlockDestination) StageBlock(ctx context.Context, blockID string, body io.Reader, length int64, opts transport.ChunkOptions) (transport.ResponseHeaders, error) {
	index, err := transfer.BlockIDIndex(blockID)
	if err != nil {
		return nil, err
	}
	partNumber := int32(index + 1)

	input := &s3.UploadPartInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key),
		UploadId:      aws.String(d.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(length),
	}
	if opts.ContentMD5 != nil {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(opts.ContentMD5))
	}

	output, err := d.client.UploadPart(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	etag := aws.ToString(output.ETag)
	d.mu.Lock()
	d.etags[partNumber] = etag
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"partNumber": partNumber,
		"length":     length,
		"etag":       etag,
	}).Debug("Uploaded part")

	return transport.ResponseHeaders{"etag": etag}, nil
}

// CommitBlockList completes the multipart upload with the parts in the
// given block order. Object metadata cannot be attached at completion,
// so a non-empty metadata set is applied afterwards with an in-place
// copy.
func (d *BlockDestination) CommitBlockList(ctx context.Context, blockIDs []string, opts transport.CommitOptions) (transport.ResponseHeaders, error) {
	parts := make([]types.CompletedPart, 0, len(blockIDs))
	d.mu.Lock()
	for _, blockID := range blockIDs {
		index, err := transfer.BlockIDIndex(blockID)
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		partNumber := int32(index + 1)
		etag, ok := d.etags[partNumber]
		if !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("block %q was never staged", blockID)
		}
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       aws.String(etag),
		})
	}
	d.mu.Unlock()

	output, err := d.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.bucket),
		Key:             aws.String(d.key),
		UploadId:        aws.String(d.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	etag := aws.ToString(output.ETag)

	if len(opts.Metadata) > 0 {
		copyOutput, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(d.bucket),
			Key:               aws.String(d.key),
			CopySource:        aws.String(d.bucket + "/" + d.key),
			Metadata:          opts.Metadata,
			MetadataDirective: types.MetadataDirectiveReplace,
			ContentType:       optionalString(d.contentType),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach object metadata: %w", err)
		}
		if copyOutput.CopyObjectResult != nil && copyOutput.CopyObjectResult.ETag != nil {
			etag = aws.ToString(copyOutput.CopyObjectResult.ETag)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"parts": len(parts),
		"etag":  etag,
	}).Info("Completed multipart upload")

	return transport.ResponseHeaders{"etag": etag}, nil
}

// Abort discards the multipart upload and every part staged so far.
func (d *BlockDestination) Abort(ctx context.Context) error {
	_, err := d.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(d.key),
		UploadId: aws.String(d.uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	d.logger.Info("Aborted multipart upload")
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
