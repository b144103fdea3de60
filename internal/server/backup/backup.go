// Package backup uploads store snapshots to S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/gophid/internal/logging"
	sc "github.com/dmitrijs2005/gophid/internal/server/config"
)

// Seams for tests.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// Source produces a full dump of the store.
type Source interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Observer is told about every upload attempt.
type Observer interface {
	ObserveBackup(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveBackup(error) {}

type Uploader struct {
	config *sc.Config
	src    Source
	obs    Observer
	logger logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	client *s3.Client
}

func NewUploader(cfg *sc.Config, src Source, obs Observer, logger logging.Logger) *Uploader {
	if obs == nil {
		obs = nopObserver{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Uploader{
		config: cfg,
		src:    src,
		obs:    obs,
		logger: logger.With("module", "backup"),
		now:    time.Now,
	}
}

// ObjectKey names the object a snapshot taken at t is stored under.
func ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (u *Uploader) s3Client(ctx context.Context) (*s3.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client != nil {
		return u.client, nil
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(u.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.config.S3RootUser,
			u.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	u.client = newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(u.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})
	return u.client, nil
}

// Upload takes one snapshot and stores it, returning the object key.
func (u *Uploader) Upload(ctx context.Context) (key string, err error) {
	defer func() { u.obs.ObserveBackup(err) }()

	data, err := u.src.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	client, err := u.s3Client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 client: %w", err)
	}

	key = ObjectKey(u.now())
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.config.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	u.logger.Info(ctx, "snapshot uploaded", "bucket", u.config.S3Bucket, "key", key, "size", len(data))
	return key, nil
}

// Run uploads every interval until ctx is done.
func (u *Uploader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := u.Upload(ctx); err != nil {
				u.logger.Error(ctx, "backup failed", "error", err)
			}
		}
	}
}
