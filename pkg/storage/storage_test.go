package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewKeyKeepsSanitizedName(t *testing.T) {
	key := NewKey("profiles", `C:\photos\my photo (1).png`)
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "profiles" {
		t.Fatalf("unexpected key layout: %q", key)
	}
	if parts[2] != "my_photo_1_.png" && parts[2] != "my_photo_1.png" {
		t.Fatalf("unexpected sanitized name: %q", parts[2])
	}
	if NewKey("profiles", "a.png") == NewKey("profiles", "a.png") {
		t.Fatalf("keys must be unique")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"avatar.png":       "avatar.png",
		"  spaced name.gif": "spaced_name.gif",
		"ünïcode.jpg":      "n_code.jpg",
		"***":              "",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileStorePutOpenDelete(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	key := "profiles/abc/avatar.png"
	if err := fs.Put(ctx, key, strings.NewReader("pixels"), 6, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := fs.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "pixels" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "profiles", "abc")); !os.IsNotExist(err) {
		t.Fatalf("expected blob dir removed, stat err=%v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing blob should succeed, got %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := fs.Put(context.Background(), "../outside", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
}
