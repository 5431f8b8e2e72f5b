// Package media stores MMS attachments and returns a URL the carrier can fetch.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxSize is the largest attachment accepted for upload.
const MaxSize = 5 << 20

// presignTTL must outlive carrier delivery retries.
const presignTTL = 24 * time.Hour

// objectKey builds a collision-free key that keeps the original extension.
func objectKey(name, contentType string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "mms/" + uuid.NewString() + ext
}

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether enough configuration is present to use S3.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// S3Store uploads attachments to a bucket and hands out presigned GET URLs.
type S3Store struct {
	bucket  string
	client  s3Client
	presign presigner
}

// NewS3Client builds a path-style client for an S3-compatible endpoint.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func NewS3Store(cfg S3Config) *S3Store {
	client := NewS3Client(cfg)
	return &S3Store{
		bucket:  cfg.Bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
	}
}

func (s *S3Store) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key := objectKey(name, contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        io.LimitReader(r, MaxSize),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign media url: %w", err)
	}
	return req.URL, nil
}

// DiskStore writes attachments under a directory that the server exposes
// at /media/.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "mms"), 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the root directory served at /media/.
func (d *DiskStore) Dir() string {
	return d.dir
}

func (d *DiskStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key := objectKey(name, contentType)
	path := filepath.Join(d.dir, filepath.FromSlash(key))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, MaxSize)); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close media file: %w", err)
	}
	return d.baseURL + "/media/" + key, nil
}
