// Package s3 keeps saved analyses as JSON objects in an S3-compatible
// bucket, one object per analysis under a configurable prefix.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askdb/askdb/internal/store"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

var errObjectNotFound = errors.New("object not found")

type client interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	client client
	bucket string
	prefix string
	now    func() time.Time
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		client: mc,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: cleanPrefix(cfg.Prefix),
		now:    time.Now,
	}
	if cfg.AutoCreateBucket {
		if err := s.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func NewWithClient(bucket, prefix string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{
		client: c,
		bucket: strings.TrimSpace(bucket),
		prefix: cleanPrefix(prefix),
		now:    time.Now,
	}, nil
}

func (s *Store) Save(ctx context.Context, name, question, sqlText string) (store.Analysis, error) {
	if err := store.ValidateName(name); err != nil {
		return store.Analysis{}, err
	}

	now := s.now().UTC()
	analysis := store.Analysis{
		Name:      name,
		Question:  question,
		SQL:       sqlText,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.Load(ctx, name); err == nil {
		analysis.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Analysis{}, err
	}

	body, err := json.Marshal(analysis)
	if err != nil {
		return store.Analysis{}, fmt.Errorf("encode analysis %q: %w", name, err)
	}
	key := s.objectKey(name)
	if err := s.client.Put(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return store.Analysis{}, fmt.Errorf("put analysis %q: %w", key, err)
	}
	return analysis, nil
}

func (s *Store) List(ctx context.Context) ([]store.Analysis, error) {
	keys, err := s.client.List(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	analyses := []store.Analysis{}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		analysis, err := s.getObject(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}
	sort.Slice(analyses, func(i, j int) bool { return analyses[i].Name < analyses[j].Name })
	return analyses, nil
}

func (s *Store) Load(ctx context.Context, name string) (store.Analysis, error) {
	if err := store.ValidateName(name); err != nil {
		return store.Analysis{}, store.ErrNotFound
	}
	return s.getObject(ctx, s.objectKey(name))
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := store.ValidateName(name); err != nil {
		return store.ErrNotFound
	}
	key := s.objectKey(name)

	// RemoveObject is idempotent on most S3 implementations, so existence
	// has to be checked first to honor the not-found contract.
	if _, err := s.getObject(ctx, key); err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.bucket, key); err != nil {
		if errors.Is(err, errObjectNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("delete analysis %q: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *Store) getObject(ctx context.Context, key string) (store.Analysis, error) {
	reader, err := s.client.Get(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, errObjectNotFound) {
			return store.Analysis{}, store.ErrNotFound
		}
		return store.Analysis{}, fmt.Errorf("get analysis %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	var analysis store.Analysis
	if err := json.NewDecoder(reader).Decode(&analysis); err != nil {
		return store.Analysis{}, fmt.Errorf("decode analysis %q: %w", key, err)
	}
	return analysis, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) objectKey(name string) string {
	if s.prefix == "" {
		return name + ".json"
	}
	return path.Join(s.prefix, name+".json")
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	clientImpl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: clientImpl}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if _, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	if prefix != "" {
		prefix += "/"
	}
	var keys []string
	for object := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, mapMinioErr(object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, mapMinioErr(err)
	}
	return exists, nil
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errObjectNotFound
		}
	}
	return err
}
