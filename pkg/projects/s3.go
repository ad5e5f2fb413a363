package projects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fileforge/fileforge/pkg/manifest"
)

// S3Config configures the S3 projects backend.
type S3Config struct {
	// Bucket is the S3 bucket for storing manifests
	Bucket string

	// Prefix is prepended to all manifest keys (e.g., "projects/")
	Prefix string

	// Region is the AWS region
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Timeout for S3 operations
	Timeout time.Duration

	// ServerSideEncryption enables SSE-S3 encryption
	ServerSideEncryption bool
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "projects/",
		Timeout: 30 * time.Second,
	}
}

// S3Backend stores manifests in S3.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Backend creates a new S3 projects backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Backend{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// key returns the S3 key for a project name.
func (b *S3Backend) key(name string) string {
	return b.cfg.Prefix + sanitizeName(name) + fileSuffix
}

// Save persists a manifest to S3.
func (b *S3Backend) Save(ctx context.Context, name string, m *manifest.Manifest) error {
	doc, err := m.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.key(name)),
		Body:        strings.NewReader(doc),
		ContentType: aws.String("application/json"),
	}
	if b.cfg.ServerSideEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to save manifest to S3: %w", err)
	}
	return nil
}

// Load retrieves a manifest from S3.
func (b *S3Backend) Load(ctx context.Context, name string) (*manifest.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load manifest from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest body: %w", err)
	}
	return manifest.Parse(data)
}

// Delete removes a manifest from S3.
func (b *S3Backend) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete manifest from S3: %w", err)
	}
	return nil
}

// List returns all stored project names under the prefix.
func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(b.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list manifests in S3: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, fileSuffix) {
				continue
			}
			name := strings.TrimPrefix(key, b.cfg.Prefix)
			names = append(names, strings.TrimSuffix(name, fileSuffix))
		}
	}
	return names, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
