package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // S3-compatible services (MinIO, R2, Supabase)
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	Multipart       Multipart
}

// S3Store stores objects in an S3 bucket.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

var (
	_ Store        = (*S3Store)(nil)
	_ PartUploader = (*S3Store)(nil)
)

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) UploadBuffer(ctx context.Context, key string, data []byte, opts UploadOptions) (string, error) {
	if err := s.PutObject(ctx, key, data, opts); err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}

func (s *S3Store) UploadStream(ctx context.Context, key string, r io.Reader, opts UploadOptions) (string, error) {
	if err := s.cfg.Multipart.Upload(ctx, s, key, r, opts); err != nil {
		return "", &Error{Op: "upload", Key: key, Err: err}
	}
	return s.PublicURL(key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Warn("storage delete failed", "bucket", s.cfg.Bucket, "key", key, "error", err)
	}
}

func (s *S3Store) PublicURL(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return joinURL(s.cfg.PublicBaseURL, key)
	case s.cfg.Endpoint != "":
		return joinURL(s.cfg.Endpoint+"/"+s.cfg.Bucket, key)
	default:
		return joinURL(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region), key)
	}
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	return err
}

func (s *S3Store) PutObject(ctx context.Context, key string, data []byte, opts UploadOptions) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   contentType(opts),
		Metadata:      opts.Metadata,
	})
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (s *S3Store) CreateMultipart(ctx context.Context, key string, opts UploadOptions) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: contentType(opts),
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return "", &Error{Op: "create-multipart", Key: key, Err: err}
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, number int32, data []byte) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", &Error{Op: "upload-part", Key: key, Err: err}
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return &Error{Op: "complete-multipart", Key: key, Err: err}
	}
	return nil
}

func (s *S3Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return &Error{Op: "abort-multipart", Key: key, Err: err}
	}
	return nil
}

func contentType(opts UploadOptions) *string {
	if opts.ContentType == "" {
		return nil
	}
	return aws.String(opts.ContentType)
}
