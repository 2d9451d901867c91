package export

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lexiqai/live-translator/internal/resilience"
)

// Error codes S3 and compatible stores return for transient overload
var s3RetryableCodes = map[string]bool{
	"SlowDown":            true,
	"ServiceUnavailable":  true,
	"InternalError":       true,
	"RequestTimeout":      true,
	"Throttling":          true,
	"ThrottlingException": true,
}

// S3Config configures the object storage sink
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink uploads each file as one object
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds an S3 client. Static credentials are used when given,
// otherwise anonymous access is assumed to be handled by the endpoint.
func NewS3Sink(cfg S3Config) *S3Sink {
	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// Write puts one text object
func (s *S3Sink) Write(ctx context.Context, p string, content []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(p)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	return classifyS3Error(err)
}

// classifyS3Error marks throttling and 5xx responses retryable. Anything else,
// such as access denied or a missing bucket, is returned as is.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) && s3RetryableCodes[apiErr.ErrorCode()] {
		return resilience.NewRetryableError(err)
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return resilience.NewRetryableError(err)
		}
	}
	return err
}

// Healthy checks that the bucket is reachable
func (s *S3Sink) Healthy(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
