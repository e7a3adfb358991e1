package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"tenantdesk/internal/config"
)

// S3API is the subset of the S3 client used by S3Bucket.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Bucket stores objects in an S3 (or S3-compatible) bucket.
type S3Bucket struct {
	client S3API
	bucket string
}

// NewS3Bucket wraps an existing client.
func NewS3Bucket(client S3API, bucket string) *S3Bucket {
	return &S3Bucket{client: client, bucket: bucket}
}

// NewS3BucketFromConfig builds an S3 client from the storage configuration.
// Static credentials are used when provided, otherwise the default AWS
// credential chain applies. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func NewS3BucketFromConfig(ctx context.Context, cfg config.StorageConfig) (*S3Bucket, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Bucket(client, cfg.Bucket), nil
}

func (b *S3Bucket) Name() string { return b.bucket }

// Put uploads data under key. The write is conditional on the key being
// absent (If-None-Match: *), so an existing key is reported as
// ErrObjectExists without being overwritten.
func (b *S3Bucket) Put(ctx context.Context, key string, data []byte, contentType, cacheControl string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
	}, s3.WithAPIOptions(smithyhttp.AddHeaderValue("If-None-Match", "*")))
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (b *S3Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List returns every object under prefix, following continuation tokens.
func (b *S3Bucket) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return out, nil
}

func (b *S3Bucket) Stat(ctx context.Context, key string) (*Object, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return &Object{
		Key:          key,
		Size:         aws.ToInt64(head.ContentLength),
		ContentType:  aws.ToString(head.ContentType),
		LastModified: aws.ToTime(head.LastModified),
	}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// isPreconditionFailed reports whether a conditional write lost to an
// existing object or to a concurrent conditional write on the same key.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusPreconditionFailed
	}
	return false
}
