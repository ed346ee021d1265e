// Package drive provides file storage tools over an S3-compatible object
// store. Folders are key prefixes marked by a zero-byte "<prefix>/" object.
package drive

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/foreman/internal/retry"
)

// ObjectAPI is the subset of the S3 client the tools use.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ ObjectAPI = (*s3.Client)(nil)

// Config configures the object store.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint for MinIO and other compatible stores.
	Endpoint string
	// Prefix is prepended to every key.
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle addresses buckets by path instead of virtual host.
	UsePathStyle bool
}

// NewS3Client builds an S3 client from cfg. Without static credentials the
// default AWS credential chain is used.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("drive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// classify tags throttling and availability errors with retry classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return retry.WithClass("RATE_LIMIT", err)
		case "ServiceUnavailable", "InternalError", "RequestTimeout":
			return retry.WithClass("TEMPORARY_FAILURE", err)
		}
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return retry.WithStatus(statusErr.HTTPStatusCode(), err)
	}
	return err
}
