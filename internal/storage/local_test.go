package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalWriteOutput(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, "/output/")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	final, err := s.WriteOutput(ctx, []byte("pixels"), "job-1/preview.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if want := filepath.Join(root, "job-1", "preview.jpg"); final != want {
		t.Errorf("final path = %q, want %q", final, want)
	}

	data, err := os.ReadFile(final)
	if err != nil || string(data) != "pixels" {
		t.Fatalf("read back = %q, %v", data, err)
	}

	ok, err := s.Exists(ctx, "job-1/preview.jpg")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if got := s.URL("job-1/preview.jpg"); got != "/output/job-1/preview.jpg" {
		t.Errorf("URL = %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "job-1"))
	if len(entries) != 1 {
		t.Errorf("expected only the published file, found %d entries", len(entries))
	}
}

func TestLocalWriteOutputCancelled(t *testing.T) {
	root := t.TempDir()
	s, _ := NewLocalStorage(root, "/output")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.WriteOutput(ctx, []byte("x"), "job/hq.jpg", "image/jpeg"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	ok, _ := s.Exists(context.Background(), "job/hq.jpg")
	if ok {
		t.Error("cancelled write left a published file")
	}
	entries, _ := os.ReadDir(filepath.Join(root, "job"))
	if len(entries) != 0 {
		t.Errorf("cancelled write left %d files behind", len(entries))
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"a/b.jpg", "a/b.jpg", false},
		{"../../etc/passwd", "etc/passwd", false},
		{"/abs/x.png", "abs/x.png", false},
		{`win\path.png`, "win/path.png", false},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("CleanKey(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestLocalDeleteMissing(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir(), "")
	if err := s.Delete(context.Background(), "nope.jpg"); err != nil {
		t.Errorf("Delete missing = %v", err)
	}
}
