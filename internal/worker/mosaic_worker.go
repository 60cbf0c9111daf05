package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/pipeline"
	log "github.com/sirupsen/logrus"
)

// Renderer runs the render steps; implemented by *pipeline.Pipeline.
type Renderer interface {
	RenderPreview(ctx context.Context, jobID string) (*model.MosaicJob, error)
	RenderHQ(ctx context.Context, jobID string) (*model.MosaicJob, error)
}

// MosaicWorker processes preview and HQ render tasks
type MosaicWorker struct {
	renderer Renderer
}

// NewMosaicWorker creates a new mosaic worker
func NewMosaicWorker(renderer Renderer) *MosaicWorker {
	return &MosaicWorker{renderer: renderer}
}

// ProcessPreview handles mosaic:preview tasks
func (w *MosaicWorker) ProcessPreview(ctx context.Context, t *asynq.Task) error {
	jobID, err := jobIDFromTask(t)
	if err != nil {
		return err
	}

	log.WithField("job", jobID).Info("starting preview render")
	_, err = w.renderer.RenderPreview(ctx, jobID)
	return taskError(jobID, err)
}

// ProcessHQ handles mosaic:hq tasks
func (w *MosaicWorker) ProcessHQ(ctx context.Context, t *asynq.Task) error {
	jobID, err := jobIDFromTask(t)
	if err != nil {
		return err
	}

	log.WithField("job", jobID).Info("starting hq render")
	_, err = w.renderer.RenderHQ(ctx, jobID)
	return taskError(jobID, err)
}

// Register adds the task handlers to mux.
func (w *MosaicWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(model.TaskTypePreview, w.ProcessPreview)
	mux.HandleFunc(model.TaskTypeHQ, w.ProcessHQ)
}

func jobIDFromTask(t *asynq.Task) (string, error) {
	var payload model.MosaicTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}
	return payload.JobID, nil
}

// taskError maps render errors onto asynq semantics. The job record already
// carries the failure, so nothing is retried except a busy job.
func taskError(jobID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrJobBusy) {
		return err
	}
	log.WithError(err).WithField("job", jobID).Warn("render task finished with error")
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
