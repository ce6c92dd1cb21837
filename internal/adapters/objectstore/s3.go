// Package objectstore uploads collectible metadata to S3-compatible storage.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/okian/fanpulse/internal/domain/model"
)

// ErrMissingBucket is returned when no bucket is configured.
var ErrMissingBucket = errors.New("objectstore: bucket is required")

// PutObjectAPI is the slice of the S3 client the publisher needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Settings locate the bucket. Endpoint is set for non-AWS providers (R2,
// MinIO); empty credentials fall back to the default AWS chain.
type Settings struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// S3Publisher stores reaction metadata as public JSON objects.
type S3Publisher struct {
	client  PutObjectAPI
	bucket  string
	baseURL string
}

// NewS3Publisher builds a publisher from settings.
func NewS3Publisher(ctx context.Context, s Settings) (*S3Publisher, error) {
	if s.Bucket == "" {
		return nil, ErrMissingBucket
	}
	region := s.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if s.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := s.PublicBaseURL
	if baseURL == "" {
		if s.Endpoint != "" {
			baseURL = strings.TrimRight(s.Endpoint, "/") + "/" + s.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.Bucket, region)
		}
	}
	return NewS3PublisherWithClient(client, s.Bucket, baseURL), nil
}

// NewS3PublisherWithClient wraps an existing client.
func NewS3PublisherWithClient(client PutObjectAPI, bucket, publicBaseURL string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Publish uploads meta under key and returns its public URL.
func (p *S3Publisher) Publish(ctx context.Context, key string, meta model.ReactionMetadata) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return p.baseURL + "/" + key, nil
}
