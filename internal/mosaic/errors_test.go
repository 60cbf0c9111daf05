package mosaic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"library empty", fmt.Errorf("load: %w", ErrLibraryEmpty), KindLibraryEmpty},
		{"invalid grid", fmt.Errorf("%w: tile size 0", ErrInvalidGrid), KindInvalidGrid},
		{"decode", &DecodeError{Path: "a.png", Err: errors.New("bad header")}, KindDecode},
		{"storage", &StorageWriteError{Path: "x/preview.jpg", Err: fs.ErrPermission}, KindStorageWrite},
		{"cancelled", ErrCancelled, KindCancelled},
		{"context", context.Canceled, KindCancelled},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindCancelled},
		{"cancel wins over storage", &StorageWriteError{Path: "k", Err: context.Canceled}, KindCancelled},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestCheckCancelled(t *testing.T) {
	if err := checkCancelled(context.Background()); err != nil {
		t.Fatalf("live context: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := checkCancelled(ctx)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
