// Package storage talks to the S3-compatible object store holding the
// uploaded imaging artifacts: it signs time-limited GET/PUT URLs and streams
// object bodies for proxied downloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	sc "github.com/dmitrijs2005/imagingdesk/internal/server/config"
)

// Signed URL lifetime bounds. SigV4 presigned URLs cannot outlive 7 days.
const (
	MinPresignExpiry = time.Minute
	MaxPresignExpiry = 7 * 24 * time.Hour
)

// Operation labels passed to the Recorder.
const (
	OpPresignGet = "presign_get"
	OpPresignPut = "presign_put"
	OpGet        = "get"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
	getObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		return c.GetObject(ctx, in, optFns...)
	}
)

// Recorder receives per-operation latency and outcome. It may be nil.
type Recorder interface {
	RecordOperation(operation string, durationSeconds float64, success bool)
}

// Object is an open object body plus the headers needed to relay it.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// S3Store signs URLs for and reads objects from one bucket.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	recorder Recorder
}

// NewS3Store builds the S3 client from cfg. Path-style addressing is used so
// the store works against MinIO as well as AWS.
func NewS3Store(ctx context.Context, cfg *sc.Config, recorder Recorder) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{
		client:   client,
		presign:  newS3PresignClient(client),
		bucket:   cfg.S3Bucket,
		recorder: recorder,
	}, nil
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// PresignGet returns a URL that downloads key until expiry elapses.
func (s *S3Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	req, err := presignGetObject(s.presign, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	s.record(OpPresignGet, start, err)
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return req.URL, nil
}

// PresignPut returns a URL the client uses to upload key until expiry elapses.
func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	start := time.Now()
	req, err := presignPutObject(s.presign, ctx, in, s3.WithPresignExpires(expiry))
	s.record(OpPresignPut, start, err)
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return req.URL, nil
}

// Open starts streaming key. Missing objects yield common.ErrorNotFound.
// The caller must close Object.Body.
func (s *S3Store) Open(ctx context.Context, key string) (*Object, error) {
	start := time.Now()
	out, err := getObject(s.client, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.record(OpGet, start, err)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}

	obj := &Object{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: -1,
	}
	if out.ContentLength != nil {
		obj.ContentLength = *out.ContentLength
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

func (s *S3Store) record(op string, start time.Time, err error) {
	if s.recorder != nil {
		s.recorder.RecordOperation(op, time.Since(start).Seconds(), err == nil)
	}
}

// ExpiryWindow turns a requested lifetime in seconds into the lifetime to
// sign with. Non-positive requests use def; everything is clamped to
// [MinPresignExpiry, MaxPresignExpiry].
func ExpiryWindow(requestedSeconds int64, def time.Duration) time.Duration {
	d := def
	if requestedSeconds > 0 {
		if requestedSeconds > int64(MaxPresignExpiry/time.Second) {
			return MaxPresignExpiry
		}
		d = time.Duration(requestedSeconds) * time.Second
	}
	switch {
	case d < MinPresignExpiry:
		return MinPresignExpiry
	case d > MaxPresignExpiry:
		return MaxPresignExpiry
	}
	return d
}
