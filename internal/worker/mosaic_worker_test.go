package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/pipeline"
)

type fakeRenderer struct {
	calls []string
	err   error
}

func (r *fakeRenderer) RenderPreview(_ context.Context, jobID string) (*model.MosaicJob, error) {
	r.calls = append(r.calls, "preview:"+jobID)
	return nil, r.err
}

func (r *fakeRenderer) RenderHQ(_ context.Context, jobID string) (*model.MosaicJob, error) {
	r.calls = append(r.calls, "hq:"+jobID)
	return nil, r.err
}

func task(t *testing.T, taskType, payload string) *asynq.Task {
	t.Helper()
	return asynq.NewTask(taskType, []byte(payload))
}

func TestRegisterRoutesBothTaskTypes(t *testing.T) {
	r := &fakeRenderer{}
	mux := asynq.NewServeMux()
	NewMosaicWorker(r).Register(mux)

	ctx := context.Background()
	if err := mux.ProcessTask(ctx, task(t, model.TaskTypePreview, `{"jobId":"j1"}`)); err != nil {
		t.Fatalf("preview task: %v", err)
	}
	if err := mux.ProcessTask(ctx, task(t, model.TaskTypeHQ, `{"jobId":"j1"}`)); err != nil {
		t.Fatalf("hq task: %v", err)
	}

	if len(r.calls) != 2 || r.calls[0] != "preview:j1" || r.calls[1] != "hq:j1" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestBadPayloadIsNotRetried(t *testing.T) {
	w := NewMosaicWorker(&fakeRenderer{})

	for _, payload := range []string{`not json`, `{}`, `{"jobId":""}`} {
		err := w.ProcessPreview(context.Background(), task(t, model.TaskTypePreview, payload))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("payload %q: err = %v, want SkipRetry", payload, err)
		}
	}
}

func TestTaskErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"busy job is retried", fmt.Errorf("job j1: %w", pipeline.ErrJobBusy), true},
		{"not ready", pipeline.ErrNotReady, false},
		{"render failure", errors.New("decode failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMosaicWorker(&fakeRenderer{err: tt.err})
			err := w.ProcessHQ(context.Background(), task(t, model.TaskTypeHQ, `{"jobId":"j1"}`))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantRetry && !errors.Is(err, pipeline.ErrJobBusy) {
				t.Errorf("err = %v, want ErrJobBusy", err)
			}
			if skip := errors.Is(err, asynq.SkipRetry); skip == tt.wantRetry {
				t.Errorf("SkipRetry = %v, want %v (err %v)", skip, !tt.wantRetry, err)
			}
		})
	}
}

func TestSuccessReturnsNil(t *testing.T) {
	w := NewMosaicWorker(&fakeRenderer{})
	if err := w.ProcessPreview(context.Background(), task(t, model.TaskTypePreview, `{"jobId":"j1"}`)); err != nil {
		t.Fatalf("err = %v", err)
	}
}
