package objectstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"shroud/internal/testsupport"
)

func setupFakeS3(t *testing.T) S3Config {
	t.Helper()
	backend := s3mem.New()
	fake := gofakes3.New(backend)
	server := httptest.NewServer(fake.Server())
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithEndpoint(strings.TrimPrefix(server.URL, "http://")))
	if err := backend.CreateBucket(cfg.Store.Bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	return S3Config{
		Endpoint:       cfg.Store.Endpoint,
		Region:         cfg.Store.Region,
		Bucket:         cfg.Store.Bucket,
		Insecure:       cfg.Store.Insecure,
		ForcePathStyle: cfg.Store.ForcePathStyle,
	}
}

func TestS3ObjectLifecycle(t *testing.T) {
	store, err := NewS3(setupFakeS3(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "originals/Images/a.png", []byte("pixels")); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, err := store.Get(ctx, "originals/Images/a.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(payload) != "pixels" {
		t.Fatalf("payload = %q", payload)
	}

	info, err := store.Head(ctx, "originals/Images/a.png")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Size != int64(len("pixels")) {
		t.Fatalf("size = %d", info.Size)
	}

	if _, err := store.Head(ctx, "originals/Images/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("head missing: %v", err)
	}
	if _, err := store.Get(ctx, "originals/Images/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}

	if err := store.Delete(ctx, "originals/Images/a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Head(ctx, "originals/Images/a.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("head after delete: %v", err)
	}
	if err := store.Delete(ctx, "originals/Images/a.png"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestS3PutIfAbsent(t *testing.T) {
	store, err := NewS3(setupFakeS3(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.PutIfAbsent(ctx, "locks/a.png.lock", []byte("{}")); err != nil {
		t.Fatalf("first conditional create: %v", err)
	}
	if err := store.PutIfAbsent(ctx, "locks/a.png.lock", []byte("{}")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second conditional create: %v", err)
	}
}

func TestS3ListSkipsPlaceholders(t *testing.T) {
	store, err := NewS3(setupFakeS3(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "originals/", nil); err != nil {
		t.Fatalf("put placeholder: %v", err)
	}
	if err := store.Put(ctx, "originals/Images/a.png", []byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "originals/Videos/b.mp4", []byte("b")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "cloaked/Images/a_cloaked_mid.png", []byte("c")); err != nil {
		t.Fatalf("put: %v", err)
	}

	infos, err := store.List(ctx, "originals/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 objects, got %d: %+v", len(infos), infos)
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.Key, "originals/") {
			t.Fatalf("unexpected key %q", info.Key)
		}
	}
}

func TestS3PrefixScopesKeys(t *testing.T) {
	cfg := setupFakeS3(t)
	cfg.Prefix = "dataset-a"
	store, err := NewS3(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "originals/a.png", []byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	infos, err := store.List(ctx, "originals/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "originals/a.png" {
		t.Fatalf("expected scoped key without prefix, got %+v", infos)
	}
}

func TestS3DownloadUpload(t *testing.T) {
	store, err := NewS3(setupFakeS3(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	dir := t.TempDir()

	local := filepath.Join(dir, "in", "frame.png")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("frame-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(ctx, local, "tempFrames/v_frames/frame_000000.png"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out := filepath.Join(dir, "out", "frame.png")
	if err := store.Download(ctx, "tempFrames/v_frames/frame_000000.png", out); err != nil {
		t.Fatalf("download: %v", err)
	}
	payload, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "frame-bytes" {
		t.Fatalf("round trip payload = %q", payload)
	}
}

func TestS3ListHonorsDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := testsupport.NewConfig(t,
		testsupport.WithEndpoint(strings.TrimPrefix(server.URL, "http://")))
	store, err := NewS3(S3Config{
		Endpoint:       cfg.Store.Endpoint,
		Region:         cfg.Store.Region,
		Bucket:         cfg.Store.Bucket,
		Insecure:       cfg.Store.Insecure,
		ForcePathStyle: cfg.Store.ForcePathStyle,
		OpTimeout:      20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	start := time.Now()
	if _, err := store.List(context.Background(), "originals/"); err == nil {
		t.Fatal("expected listing against a stalled endpoint to fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("listing was not bounded by the deadline, took %v", elapsed)
	}
}
