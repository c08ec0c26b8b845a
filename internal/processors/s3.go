package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ingest/internal/config"
	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/services"
	"ingest/internal/textutil"
)

// ObjectKeyField receives the object key written by S3Store.
const ObjectKeyField = "s3_key"

// ObjectPutter is the part of *minio.Client S3Store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Store writes every document as a JSON object to an S3-compatible bucket.
type S3Store struct {
	name   string
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Client connects to the endpoint in cfg and makes sure the bucket exists.
func NewS3Client(ctx context.Context, cfg config.S3) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "s3", "connect",
			"endpoint, access_key and secret_key are required (or MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY)", nil)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if cfg.Bucket == "" {
		return client, nil
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "s3", "bucket exists", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, services.Wrap(services.ErrTransient, "s3", "make bucket", cfg.Bucket, err)
		}
	}
	return client, nil
}

// NewS3Store returns a processor writing to bucket under prefix.
func NewS3Store(name string, client ObjectPutter, bucket, prefix string, logger *slog.Logger) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3_store: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3_store: bucket is required")
	}
	return &S3Store{
		name:   name,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.NewComponentLogger(logger, "s3"),
	}, nil
}

func (p *S3Store) Name() string { return p.name }

func (p *S3Store) HasExternalSideEffects() bool { return true }

func (p *S3Store) Close() error { return nil }

// ObjectKey returns the key a document is stored under.
func (p *S3Store) ObjectKey(doc *document.Document) string {
	return path.Join(p.prefix, textutil.SanitizeKey(doc.ID())+".json")
}

func (p *S3Store) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	key := p.ObjectKey(doc)
	doc.Set(ObjectKeyField, key)
	data, err := json.Marshal(doc)
	if err != nil {
		doc.Remove(ObjectKeyField)
		return nil, fmt.Errorf("encode document: %w", err)
	}
	info, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		doc.Remove(ObjectKeyField)
		return nil, services.Wrap(services.ErrTransient, p.name, "put object", p.bucket+"/"+key, err)
	}
	logging.WithContext(ctx, p.logger).Debug("stored document",
		logging.String("bucket", p.bucket),
		logging.String("key", key),
		logging.Int64("size", info.Size),
	)
	return pass(doc)
}
