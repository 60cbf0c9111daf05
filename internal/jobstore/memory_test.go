package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/photomosaic/api/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job := model.NewMosaicJob(uuid.New().String(), "/tmp/photo.jpg", "photo.jpg")
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// the store must not alias the caller's record
	job.Progress = 99

	got, err := store.Load(ctx, job.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %d, want 0", got.Progress)
	}
	if got.Status != model.JobStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
	_, err := store.Update(context.Background(), "missing", func(*model.MosaicJob) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateSerializes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := model.NewMosaicJob("job-1", "src", "")
	if err := store.Save(ctx, job); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, job.ID, func(j *model.MosaicJob) error {
				j.Progress++
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Load(ctx, job.ID)
	if got.Progress != 50 {
		t.Errorf("progress = %d, want 50", got.Progress)
	}
}

func TestMemoryStoreUpdateAbort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := model.NewMosaicJob("job-2", "src", "")
	_ = store.Save(ctx, job)

	boom := errors.New("boom")
	_, err := store.Update(ctx, job.ID, func(j *model.MosaicJob) error {
		j.Progress = 42
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, _ := store.Load(ctx, job.ID)
	if got.Progress != 0 {
		t.Errorf("aborted update was saved: progress = %d", got.Progress)
	}
}
