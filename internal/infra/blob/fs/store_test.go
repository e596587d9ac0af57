package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shopcore/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := s.Put(ctx, "snapshots/prod/1.json", strings.NewReader(`{"x":1}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"label": "prod"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/prod/1.json", strings.NewReader("y"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "snapshots/prod/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"x":1}` || got.Metadata["label"] != "prod" || got.ETag != info.ETag {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	head, err := s.Head(ctx, "snapshots/prod/1.json")
	if err != nil || head.ContentType != "application/json" {
		t.Fatalf("head: %+v %v", head, err)
	}

	_, _ = s.Put(ctx, "snapshots/dev/1.json", strings.NewReader("{}"), core.PutOptions{})
	list, err := s.List(ctx, "snapshots/prod/")
	if err != nil || len(list) != 1 || list[0].Key != "snapshots/prod/1.json" {
		t.Fatalf("unexpected listing %+v %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "snapshots/dev/1.json" {
		t.Fatalf("unexpected full listing %+v", all)
	}

	if ok, err := s.Delete(ctx, "snapshots/prod/1.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "snapshots/prod/1.json"); ok {
		t.Fatalf("second delete must report missing")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "snapshots", "prod", "1.json.meta")); !os.IsNotExist(err) {
		t.Fatalf("sidecar must be removed, stat err=%v", err)
	}
	if _, _, err := s.Get(ctx, "snapshots/prod/1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "  ", "/etc/passwd", "../outside", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Errorf("key %q must be rejected", key)
		}
	}
}

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "archive")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("driver = %s", s.Driver())
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}
