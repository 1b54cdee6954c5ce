package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/gateway/httpclient"
)

// ObjectURLPrefix marks URLs that point into the document bucket.
const ObjectURLPrefix = "/objects/"

// ObjectStore hands out one-time upload URLs and stores generated reports.
// Documents are addressed by opaque object URLs of the form /objects/<key>.
type ObjectStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	uploadTTL time.Duration
	now       func() time.Time
}

func NewObjectStore(ctx context.Context, cfg *config.Config) (*ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithHTTPClient(httpclient.New(cfg.BlobRequestTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return NewObjectStoreWithClient(client, cfg.S3Bucket, cfg.UploadURLTTL), nil
}

func NewObjectStoreWithClient(client *s3.Client, bucket string, uploadTTL time.Duration) *ObjectStore {
	if uploadTTL <= 0 {
		uploadTTL = 15 * time.Minute
	}
	return &ObjectStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		uploadTTL: uploadTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CustomerKey builds a collision-free key under the customer's prefix.
func CustomerKey(customerID uuid.UUID, fileName string) string {
	return fmt.Sprintf("customers/%s/%s-%s", customerID, uuid.NewString(), sanitizeFileName(fileName))
}

func (s *ObjectStore) PresignUpload(ctx context.Context, key, contentType string) (models.UploadTarget, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(s.uploadTTL))
	if err != nil {
		return models.UploadTarget{}, fmt.Errorf("presign upload: %w", err)
	}
	return models.UploadTarget{
		UploadURL: req.URL,
		ObjectURL: ObjectURL(key),
		ExpiresAt: s.now().Add(s.uploadTTL),
	}, nil
}

// Put stores data under key, retrying transient failures, and returns the
// object URL to record.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	err := httpclient.RetryIf(ctx, 3, 200*time.Millisecond, httpclient.IsRetriable, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		logger.Log.WithError(err).WithField("key", key).Error("Failed to store object")
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
		"bytes":  len(data),
	}).Info("Stored object")
	return ObjectURL(key), nil
}

func ObjectURL(key string) string {
	return ObjectURLPrefix + strings.TrimPrefix(key, "/")
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
