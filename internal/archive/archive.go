// Package archive uploads finished recordings to S3-compatible storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 2 * time.Minute

// ErrNotConfigured is returned by NewS3 when no bucket is set.
var ErrNotConfigured = errors.New("archive: s3 bucket not configured")

// Config describes the target bucket.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithClient replaces the S3 client built from Config.
func WithClient(c PutObjectAPI) Option {
	return func(a *Archiver) { a.client = c }
}

// WithClock replaces time.Now for key generation.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(a *Archiver) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// Archiver stores WAV recordings under date-partitioned keys.
type Archiver struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewS3 returns an Archiver for cfg. Unless [WithClient] is given, both
// static keys are required.
func NewS3(cfg Config, opts ...Option) (*Archiver, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	a := &Archiver{
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.client == nil {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("archive: bucket %q: access_key_id and secret_access_key are required", cfg.Bucket)
		}
		a.client = newClient(cfg)
	}
	return a, nil
}

func newClient(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	return s3.New(s3.Options{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      region,
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

// Key returns the object key for a recording started at t.
func (a *Archiver) Key(t time.Time, id string) string {
	name := fmt.Sprintf("%s/%s.wav", t.UTC().Format("2006/01/02"), id)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Upload stores the file at localPath. An empty id is replaced by a fresh
// UUID. It returns the object key.
func (a *Archiver) Upload(ctx context.Context, localPath, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open %q: %w", localPath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: stat %q: %w", localPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := a.Key(a.now(), id)
	start := time.Now()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put s3://%s/%s: %w", a.bucket, key, err)
	}
	slog.Info("recording archived", "bucket", a.bucket, "key", key, "bytes", st.Size(), "took", time.Since(start))
	return key, nil
}
