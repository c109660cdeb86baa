package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the snapshot object.
type S3Config struct {
	Bucket string
	Key    string

	// Region overrides the region from the default credential chain.
	Region string

	// Endpoint points the client at an S3 compatible service.
	Endpoint string

	// PathStyle forces path style addressing, as most S3 compatible
	// services require.
	PathStyle bool
}

// S3Backend stores the snapshot as a single S3 object.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Backend creates an S3Backend using client.
func NewS3Backend(client S3API, bucket, key string) *S3Backend {
	if key == "" {
		key = "brencher/state.json"
	}
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// NewS3BackendFromConfig builds an S3 client from the default AWS credential
// chain and returns a backend for cfg.
func NewS3BackendFromConfig(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3Backend(client, cfg.Bucket, cfg.Key), nil
}

// Load implements Backend.
func (b *S3Backend) Load(ctx context.Context) (Snapshot, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if isNotFound(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("getting s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return decode(data)
}

// Save implements Backend.
func (b *S3Backend) Save(ctx context.Context, snap Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
