package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrInvalidS3URL is returned for references that are not s3://bucket/key.
var ErrInvalidS3URL = errors.New("invalid s3 url")

// ObjectRef addresses one object.
type ObjectRef struct {
	Bucket string
	Key    string
}

func (r ObjectRef) String() string { return "s3://" + r.Bucket + "/" + r.Key }

// ParseS3URL splits s3://bucket/key. A #fragment is ignored.
func ParseS3URL(u string) (ObjectRef, error) {
	if !strings.HasPrefix(u, "s3://") {
		return ObjectRef{}, fmt.Errorf("%w: %s", ErrInvalidS3URL, u)
	}
	path := strings.TrimPrefix(u, "s3://")
	if i := strings.Index(path, "#"); i >= 0 {
		path = path[:i]
	}
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return ObjectRef{}, fmt.Errorf("%w: %s", ErrInvalidS3URL, u)
	}
	return ObjectRef{Bucket: path[:slash], Key: path[slash+1:]}, nil
}

// ObjectStore is the subset of S3 the workers need.
type ObjectStore interface {
	Download(ctx context.Context, ref ObjectRef) ([]byte, error)
	Upload(ctx context.Context, ref ObjectRef, body []byte, contentType string, meta map[string]string) error
}

// S3Options configures NewS3Client. Empty credentials fall back to the
// default AWS chain; Endpoint targets S3-compatible stores such as MinIO.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Client wraps the AWS S3 client with the transfer manager.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
	}, nil
}

// Download fetches an object into memory.
func (s *S3Client) Download(ctx context.Context, ref ObjectRef) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref, err)
	}
	log.Debug().Str("bucket", ref.Bucket).Str("key", ref.Key).Int64("bytes", n).Msg("downloaded object")
	return buf.Bytes(), nil
}

// Upload stores body at ref.
func (s *S3Client) Upload(ctx context.Context, ref ObjectRef, body []byte, contentType string, meta map[string]string) error {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ref.Bucket),
		Key:         aws.String(ref.Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", ref, err)
	}
	log.Info().Str("bucket", ref.Bucket).Str("key", ref.Key).Str("location", out.Location).Int("bytes", len(body)).Msg("uploaded object")
	return nil
}

// Exists reports whether ref is present.
func (s *S3Client) Exists(ctx context.Context, ref ObjectRef) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", ref, err)
}

// HeadBucket checks that bucket is reachable with the current credentials.
func (s *S3Client) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}
