package disk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Disk stores objects in an S3 bucket (or any S3-compatible service).
// It issues native expiring URLs through presigned GET requests.
type S3Disk struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewS3Disk creates an S3Disk from an existing client.
func NewS3Disk(client *s3.Client, bucket, prefix string) *S3Disk {
	return &S3Disk{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  prefix,
	}
}

// NewS3DiskFromConfig builds the S3 client from disk configuration. Static
// credentials are used when an access key is configured; otherwise the
// default AWS credential chain applies.
func NewS3DiskFromConfig(ctx context.Context, cfg Config) (*S3Disk, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 disk: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 disk: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Disk(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *S3Disk) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads the object. The body is buffered because PutObject needs a
// seekable payload to compute its checksum.
func (s *S3Disk) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("s3 disk: read body: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 disk: put %q: %w", key, err)
	}
	return nil
}

func (s *S3Disk) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3 disk: get %q: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Disk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *S3Disk) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 disk: delete %q: %w", key, err)
	}
	return nil
}

func (s *S3Disk) Stat(ctx context.Context, key string) (FileInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return FileInfo{}, fmt.Errorf("s3 disk: head %q: %w", key, err)
	}
	info := FileInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	info.ContentType = aws.ToString(out.ContentType)
	return info, nil
}

// Features reports presigned GET support. S3 has no non-expiring signed URL.
func (s *S3Disk) Features() Features {
	return Features{TemporaryURL: true}
}

func (s *S3Disk) SignedURL(context.Context, string) (string, error) {
	return "", ErrUnsupported
}

// TemporaryURL presigns a GET request valid until expires.
func (s *S3Disk) TemporaryURL(ctx context.Context, key string, expires time.Time) (string, error) {
	ttl := time.Until(expires)
	if ttl <= 0 {
		return "", fmt.Errorf("s3 disk: expiry %s is in the past", expires.Format(time.RFC3339))
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 disk: presign %q: %w", key, err)
	}
	return req.URL, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
