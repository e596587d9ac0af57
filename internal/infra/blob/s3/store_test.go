package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"shopcore/internal/blob/core"
)

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if s.Driver() != core.DriverS3 || s.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store %s/%s", s.Driver(), s.Bucket())
	}

	payload := `{"company":{}}`
	info, err := s.Put(ctx, "snapshots/prod/a.json", strings.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"label": "prod"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ContentType != "application/json" || info.Metadata["label"] != "prod" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/prod/a.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, rc, err := s.Get(ctx, "snapshots/prod/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != payload {
		t.Fatalf("body = %q", body)
	}

	if _, err := s.Put(ctx, "snapshots/dev/b.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put dev: %v", err)
	}
	list, err := s.List(ctx, "snapshots/prod/")
	if err != nil || len(list) != 1 || list[0].Key != "snapshots/prod/a.json" {
		t.Fatalf("unexpected listing %+v %v", list, err)
	}

	if ok, err := s.Delete(ctx, "snapshots/prod/a.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "snapshots/prod/a.json"); ok || err != nil {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "snapshots/prod/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := s.Head(ctx, "snapshots/prod/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestDecodeChunked(t *testing.T) {
	framed := "5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	got, err := decodeChunked([]byte(framed))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("decodeChunked = %q, %v", got, err)
	}
	if _, err := decodeChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected error for invalid size")
	}
}
