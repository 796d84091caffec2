package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

// S3Store implements a store using Amazon S3 or compatible services.
// Objects are private; without credentials requests are sent anonymously.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// S3Config holds the connection parameters of an S3Store.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// NewS3Store creates a new S3 store. No request is made until first use.
func NewS3Store(cfg S3Config, log *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	// Format the URI for tracking
	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", cfg.AccessKey, cfg.Bucket, cfg.Prefix, cfg.Region)
	}
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
		HTTPClient:       &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		awsCfg.Credentials = credentials.AnonymousCredentials
		log.Warn("No S3 credentials provided - write operations may fail unless bucket is writable anonymously")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Get retrieves an object from S3. Returns ErrKeyNotFound if the object doesn't exist.
func (b *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	objectKey := b.objectKey(key)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Key not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", objectKey),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrKeyNotFound
		}

		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched key from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

func (b *S3Store) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	objectKey := b.objectKey(key)
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload object to S3: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored key in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey))

	return nil
}

// Delete removes the object. S3 reports success for missing objects.
func (b *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("%w: failed to delete object from S3: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks if the S3 store is accessible by attempting to head the bucket.
func (b *S3Store) Available(ctx context.Context) bool {
	start := time.Now()

	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 store unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}

	return true
}

// Name returns a unique identifier for this store.
func (b *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this store.
func (b *S3Store) LocationURI() string {
	return b.locationURI
}

func (b *S3Store) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
