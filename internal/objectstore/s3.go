package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config controls the behaviour of the S3-compatible backend.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	// OpTimeout bounds every individual store operation. Zero disables the
	// per-operation deadline.
	OpTimeout time.Duration

	CustomCreds *credentials.Credentials
	Transport   http.RoundTripper
}

// S3Store implements Store backed by S3-compatible object storage.
type S3Store struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3 constructs an S3Store using the provided configuration.
func NewS3(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3Store{client: client, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	return clone
}

// BucketExists reports whether the configured bucket exists; used as the
// startup reachability check.
func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.BucketExists(ctx, s.cfg.Bucket)
}

func (s *S3Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// listTimeoutFactor scales OpTimeout for listings, which span many pages and
// cannot be bounded by a single-object deadline.
const listTimeoutFactor = 10

func (s *S3Store) listContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout*listTimeoutFactor)
}

func (s *S3Store) withPrefix(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + strings.TrimPrefix(key, "/")
}

func (s *S3Store) stripPrefix(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.cfg.Prefix+"/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound ||
		resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.Code == "NotFound"
}

func isPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed"
}

// List returns all objects under prefix across every page.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	listCtx, cancel := s.listContext(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{Prefix: s.withPrefix(prefix), Recursive: true}
	var infos []ObjectInfo
	for object := range s.client.ListObjects(listCtx, s.cfg.Bucket, opts) {
		if object.Err != nil {
			return nil, fmt.Errorf("s3: list %q: %w", prefix, object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		infos = append(infos, ObjectInfo{
			Key:          s.stripPrefix(object.Key),
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return infos, nil
}

// Get downloads an object's full payload.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.withPrefix(key), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %q: %w", key, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: read %q: %w", key, err)
	}
	return payload, nil
}

// Put uploads payload under key, overwriting any existing object.
func (s *S3Store) Put(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.withPrefix(key),
		bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", key, err)
	}
	return nil
}

// PutIfAbsent creates key only when it does not already exist. The existence
// check and the conditional If-None-Match put together give best-effort
// mutual exclusion; backends that honor the precondition close the
// check-then-create window entirely.
func (s *S3Store) PutIfAbsent(ctx context.Context, key string, payload []byte) error {
	if _, err := s.Head(ctx, key); err == nil {
		return ErrAlreadyExists
	} else if err != ErrNotFound {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	opts := minio.PutObjectOptions{}
	opts.SetMatchETagExcept("*")
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.withPrefix(key),
		bytes.NewReader(payload), int64(len(payload)), opts)
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("s3: conditional put %q: %w", key, err)
	}
	return nil
}

// Delete removes an object; missing objects are ignored.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.withPrefix(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete %q: %w", key, err)
	}
	return nil
}

// Head returns object metadata without the payload.
func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	info, err := s.client.StatObject(ctx, s.cfg.Bucket, s.withPrefix(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("s3: head %q: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: info.Size, LastModified: info.LastModified}, nil
}

// Download streams an object to a local file.
func (s *S3Store) Download(ctx context.Context, key, localPath string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("s3: create download directory: %w", err)
	}
	err := s.client.FGetObject(ctx, s.cfg.Bucket, s.withPrefix(key), localPath, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("s3: download %q: %w", key, err)
	}
	return nil
}

// Upload streams a local file to an object key.
func (s *S3Store) Upload(ctx context.Context, localPath, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, s.withPrefix(key), localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3: upload %q: %w", key, err)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
