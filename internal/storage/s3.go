// internal/storage/s3.go
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReceiptStore uploads payment receipt images to S3.
type ReceiptStore struct {
	client  PutObjectAPI
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewReceiptStore builds a store. baseURL is the public prefix (CloudFront or
// bucket website); when empty the virtual-hosted S3 URL is used.
func NewReceiptStore(client PutObjectAPI, bucket, region, baseURL string) *ReceiptStore {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &ReceiptStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func NewReceiptStoreFromConfig(cfg aws.Config, bucket, baseURL string) *ReceiptStore {
	return NewReceiptStore(s3.NewFromConfig(cfg), bucket, cfg.Region, baseURL)
}

// UploadDataURL stores a data:<mime>;base64,<payload> image under
// receipts/<prefix>-<nanos><ext> and returns its public URL.
func (r *ReceiptStore) UploadDataURL(ctx context.Context, dataURL, prefix string) (string, error) {
	meta, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(meta, "data:") {
		return "", fmt.Errorf("invalid base64 image")
	}
	contentType, _, _ := strings.Cut(strings.TrimPrefix(meta, "data:"), ";")
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		return "", fmt.Errorf("unsupported receipt type %q", contentType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	key := fmt.Sprintf("receipts/%s-%d%s", prefix, r.now().UnixNano(), extension(contentType))

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return r.baseURL + "/" + key, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	if _, sub, ok := strings.Cut(contentType, "/"); ok {
		return "." + sub
	}
	return ""
}
