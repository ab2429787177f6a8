package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWrite(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "out", "daily_image.png"))
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	if err := f.Write(data); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !f.Exists() {
		t.Fatal("expected file to exist after Write")
	}
	got, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("expected %q, got %q", data, got)
	}
}

func TestWriteOverwrites(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "img.png"))
	if err := f.Write([]byte("first, longer content")); err != nil {
		t.Fatal(err)
	}
	if err := f.Write([]byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("expected 'second', got %q", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "img.png"))
	if err := f.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := f.Remove(); err != nil {
			t.Errorf("remove %d: expected no error, got %v", i+1, err)
		}
	}
	if f.Exists() {
		t.Error("expected file to be gone")
	}
}

func TestPathFor(t *testing.T) {
	tests := []struct {
		path     string
		mimeType string
		want     string
	}{
		{"daily_image.png", "image/png", "daily_image.png"},
		{"daily_image.png", "image/jpeg", "daily_image.jpg"},
		{"out/daily_image.png", "image/webp", "out/daily_image.webp"},
		{"daily_image.png", "IMAGE/JPEG", "daily_image.jpg"},
		{"daily_image", "image/gif", "daily_image.gif"},
		{"daily_image.png", "application/octet-stream", "daily_image.png"},
		{"daily_image.png", "", "daily_image.png"},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.mimeType, func(t *testing.T) {
			if got := PathFor(tt.path, tt.mimeType); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daily_image.png")
	keep := filepath.Join(dir, "photo.jpg")
	for _, name := range []string{path, filepath.Join(dir, "daily_image.jpg"), filepath.Join(dir, "daily_image.webp"), keep} {
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := RemoveStale(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "photo.jpg" {
		t.Errorf("expected only photo.jpg to remain, got %v", entries)
	}

	if err := RemoveStale(path); err != nil {
		t.Errorf("expected removing nothing to succeed, got %v", err)
	}
}
