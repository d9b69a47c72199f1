package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pgx-lims-server/internal/domain"
)

// S3Store stores blobs as objects in a single bucket. Keys map to
// object keys directly. A custom endpoint with path style enables
// MinIO-compatible backends.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the client from the default credentials chain plus
// the configured region and optional endpoint.
func NewS3Store(ctx context.Context, config domain.BlobConfig) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		if config.PathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: config.Bucket}, nil
}

func (s *S3Store) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("uploading blob %s: %w", name, err)
	}
	return name, nil
}

func (s *S3Store) Download(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &ref})
	if err != nil {
		return nil, fmt.Errorf("downloading blob %s: %w", ref, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", ref, err)
	}
	return data, nil
}
