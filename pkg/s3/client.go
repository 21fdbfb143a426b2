package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chroma-rag/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3_config "github.com/aws/aws-sdk-go-v2/config"
	s3_credentials "github.com/aws/aws-sdk-go-v2/credentials"
	s3_provider "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client downloads ingest sources from an S3 compatible store (MinIO in development).
type Client struct {
	api *s3_provider.Client
}

// NewClient builds a path-style S3 client from cfg.
func NewClient(ctx context.Context, s3cfg config.S3Config) (*Client, error) {
	region := s3cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*s3_config.LoadOptions) error{
		s3_config.WithRegion(region),
	}
	if s3cfg.AccessKey != "" && s3cfg.SecretKey != "" {
		opts = append(opts, s3_config.WithCredentialsProvider(
			s3_credentials.NewStaticCredentialsProvider(s3cfg.AccessKey, s3cfg.SecretKey, ""),
		))
	}

	awsCfg, err := s3_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%v: load aws config: %w", config.ModuleS3, err)
	}

	endpoint := s3cfg.Endpoint
	api := s3_provider.NewFromConfig(awsCfg, func(o *s3_provider.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{api: api}, nil
}

// Download reads the whole object behind an s3://bucket/key URI.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3_provider.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%v: get %s: %w", config.ModuleS3, uri, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%v: read %s: %w", config.ModuleS3, uri, err)
	}
	return b, nil
}

// Upload stores body under bucket/key, creating the bucket when missing, and
// returns the s3:// URI of the object.
func (c *Client) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error) {
	if _, err := c.api.HeadBucket(ctx, &s3_provider.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, crtErr := c.api.CreateBucket(ctx, &s3_provider.CreateBucketInput{Bucket: aws.String(bucket)}); crtErr != nil {
			var owned *s3types.BucketAlreadyOwnedByYou
			if !errors.As(crtErr, &owned) {
				return "", fmt.Errorf("%v: create bucket %s: %w", config.ModuleS3, bucket, crtErr)
			}
		}
	}
	_, err := c.api.PutObject(ctx, &s3_provider.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%v: put %s/%s: %w", config.ModuleS3, bucket, key, err)
	}
	return "s3://" + bucket + "/" + key, nil
}

// ParseURI splits s3://bucket/key/with/slashes into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%v: %q is not an s3:// uri", config.ModuleS3, uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%v: %q needs both bucket and key", config.ModuleS3, uri)
	}
	return bucket, key, nil
}

// IsURI reports whether source points at object storage.
func IsURI(source string) bool {
	return strings.HasPrefix(source, "s3://")
}
