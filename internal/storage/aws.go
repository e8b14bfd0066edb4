// AWS S3 backend.
//
// Listing maps to ListObjectsV2 with a "/" delimiter so sub-prefixes come
// back as CommonPrefixes; removal maps to one DeleteObjects call per chunk
// (S3 accepts at most 1000 keys per call). Works against any S3-compatible
// endpoint when EndpointURL and UsePathStyle are set.
//
// Credentials are resolved via the standard AWS credential chain unless
// static keys are configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// maxS3DeleteKeys is the S3 limit on keys per DeleteObjects call.
const maxS3DeleteKeys = 1000

// S3API defines the subset of the AWS S3 client interface that the backend
// uses. This allows mocking in tests.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// AWSOptions configures the S3 client.
type AWSOptions struct {
	Region          string
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	// HealthBucket is checked with HeadBucket by HealthCheck. Optional.
	HealthBucket string
}

// AWSBackend implements ObjectStore against Amazon S3 or an S3-compatible
// service. Sweep bucket names are S3 bucket names.
type AWSBackend struct {
	// Region is the AWS region of the client.
	Region string
	// healthBucket is checked by HealthCheck when set.
	healthBucket string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewAWSBackend creates an AWSBackend using the default credential chain,
// with optional overrides for custom endpoint, path-style addressing, and
// static credentials.
func NewAWSBackend(ctx context.Context, opts AWSOptions) (*AWSBackend, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	b := &AWSBackend{
		Region:       region,
		healthBucket: opts.HealthBucket,
		client:       s3.NewFromConfig(cfg, s3Opts...),
	}

	slog.Info("AWS storage backend initialized", "region", region, "endpoint", opts.EndpointURL)
	return b, nil
}

// NewAWSBackendWithClient creates an AWSBackend with a pre-configured S3
// client. This is primarily used for testing with mock clients.
func NewAWSBackendWithClient(region, healthBucket string, client S3API) *AWSBackend {
	return &AWSBackend{
		Region:       region,
		healthBucket: healthBucket,
		client:       client,
	}
}

// List performs one ListObjectsV2 call with a "/" delimiter. Folder marker
// objects (keys equal to the prefix or ending in "/") are skipped.
func (b *AWSBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(int32(pageSize)),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
	}

	page := &ListPage{}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		page.Entries = append(page.Entries, Entry{Path: key})
	}
	for _, cp := range out.CommonPrefixes {
		p := aws.ToString(cp.Prefix)
		if p == "" || p == prefix {
			continue
		}
		page.Entries = append(page.Entries, Entry{Path: p, IsPrefix: true})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// Remove batch-deletes paths with DeleteObjects. Keys reported under Errors
// are not counted as removed; S3 reports absent keys as deleted.
func (b *AWSBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	var removed []string
	for start := 0; start < len(paths); start += maxS3DeleteKeys {
		end := start + maxS3DeleteKeys
		if end > len(paths) {
			end = len(paths)
		}

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, p := range paths[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(p)})
		}

		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			return removed, fmt.Errorf("batch-deleting from s3://%s: %w", bucket, err)
		}
		for _, d := range out.Deleted {
			removed = append(removed, aws.ToString(d.Key))
		}
		for _, e := range out.Errors {
			slog.Warn("S3 refused to delete key", "bucket", bucket, "key", aws.ToString(e.Key),
				"code", aws.ToString(e.Code), "message", aws.ToString(e.Message))
		}
	}
	return removed, nil
}

// HealthCheck checks the configured health bucket, if any.
func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	if b.healthBucket == "" {
		return nil
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.healthBucket),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return fmt.Errorf("s3 bucket %q does not exist: %w", b.healthBucket, err)
		}
		return err
	}
	return nil
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure AWSBackend implements ObjectStore at compile time.
var _ ObjectStore = (*AWSBackend)(nil)
