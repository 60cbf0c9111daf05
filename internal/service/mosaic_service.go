package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/photomosaic/api/internal/config"
	"github.com/photomosaic/api/internal/jobstore"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/photomosaic/api/internal/pipeline"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedUpload is returned for files that are not images.
	ErrUnsupportedUpload = errors.New("unsupported image type")

	// ErrNoOutput is returned when a result is requested before any tier
	// has been published.
	ErrNoOutput = errors.New("job has no output yet")
)

var uploadExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Enqueuer is the part of *asynq.Client the service uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobControl cancels and restarts jobs; implemented by *pipeline.Pipeline.
type JobControl interface {
	Cancel(ctx context.Context, jobID string) (*model.MosaicJob, error)
	Restart(ctx context.Context, jobID string) (*model.MosaicJob, error)
}

// MosaicService handles mosaic job management for the request layer
type MosaicService struct {
	store     jobstore.Store
	queue     Enqueuer
	control   JobControl
	library   pipeline.LibrarySource
	cfg       config.MosaicConfig
}

func NewMosaicService(store jobstore.Store, queue Enqueuer, control JobControl, library pipeline.LibrarySource, cfg config.MosaicConfig) *MosaicService {
	return &MosaicService{
		store:     store,
		queue:     queue,
		control:   control,
		library:   library,
		cfg:       cfg,
	}
}

// Start stores the uploaded photo, creates a pending job and queues the
// preview render.
func (s *MosaicService) Start(ctx context.Context, filename string, body io.Reader) (*model.StartMosaicResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !uploadExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedUpload, ext)
	}

	source, err := s.saveUpload(filename, ext, body)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	job := model.NewMosaicJob(uuid.New().String(), source, filepath.Base(filename))
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.enqueue(model.TaskTypePreview, model.QueueRender, job.ID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"job": job.ID, "source": job.SourceName}).Info("mosaic job queued")
	return &model.StartMosaicResponse{
		JobID:  job.ID,
		Status: job.Status,
	}, nil
}

// saveUpload writes the upload as <unix millis>_<first six chars of name><ext>.
func (s *MosaicService) saveUpload(filename, ext string, body io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if r := []rune(stem); len(r) > 6 {
		stem = string(r[:6])
	}
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), stem, ext)

	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.cfg.UploadDir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// RequestHQ queues the high quality render of a job whose preview exists.
func (s *MosaicService) RequestHQ(ctx context.Context, jobID string) (*model.HQResponse, error) {
	job, err := s.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPreviewReady && job.Status != model.JobStatusHQReady {
		return nil, fmt.Errorf("%w (status %s)", pipeline.ErrNotReady, job.Status)
	}

	if err := s.enqueue(model.TaskTypeHQ, model.QueueHQ, jobID); err != nil {
		return nil, err
	}
	return &model.HQResponse{JobID: jobID, Status: job.Status}, nil
}

// GetStatus returns the current status of a mosaic job
func (s *MosaicService) GetStatus(ctx context.Context, jobID string) (*model.MosaicStatusResponse, error) {
	job, err := s.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.MosaicStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		ErrorKind:   job.ErrorKind,
		Error:       job.Error,
		UpdatedAt:   job.UpdatedAt,
	}, nil
}

// GetResult returns the published outputs of a job
func (s *MosaicService) GetResult(ctx context.Context, jobID string) (*model.MosaicResultResponse, error) {
	job, err := s.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Outputs.Preview == nil && job.Outputs.HQ == nil {
		return nil, ErrNoOutput
	}

	res := &model.MosaicResultResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Grid:    job.Grid,
		Preview: job.Outputs.Preview,
		HQ:      job.Outputs.HQ,
	}
	if job.Matches != nil {
		res.Fallbacks = job.Matches.FallbackCount()
	}
	return res, nil
}

// Cancel cancels a mosaic job
func (s *MosaicService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	job, err := s.control.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.CancelResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Cancelled: job.Cancelled,
	}, nil
}

// Retry puts a failed or cancelled job back to pending and queues its
// preview again. Preview tasks left over from before the failure find the
// job failed or already rendered and do nothing.
func (s *MosaicService) Retry(ctx context.Context, jobID string) (*model.StartMosaicResponse, error) {
	job, err := s.control.Restart(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(model.TaskTypePreview, model.QueueRender, jobID); err != nil {
		return nil, err
	}

	log.WithField("job", jobID).Info("mosaic job requeued")
	return &model.StartMosaicResponse{
		JobID:  job.ID,
		Status: job.Status,
	}, nil
}

// Decorations returns decorative tiles placed on the preview grid.
func (s *MosaicService) Decorations(ctx context.Context, n int, seed int64) (*model.DecorationsResponse, error) {
	lib, err := s.library.Get(ctx)
	if err != nil {
		return nil, err
	}
	grid, err := mosaic.ComputeGrid(s.cfg.GridSpec())
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	tiles := mosaic.PlaceDecorations(grid, lib, n, s.cfg.DontPutFakeTilesBeyond, seed)
	if tiles == nil {
		tiles = []mosaic.Decoration{}
	}
	return &model.DecorationsResponse{
		Tiles:    tiles,
		TileSize: grid.CellWidth,
		Canvas:   grid,
	}, nil
}

func (s *MosaicService) enqueue(taskType, queue, jobID string) error {
	task, err := NewMosaicTask(taskType, jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.Enqueue(task,
		asynq.Queue(queue),
		asynq.MaxRetry(2),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// NewMosaicTask builds the asynq task for a preview or HQ render.
func NewMosaicTask(taskType, jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.MosaicTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
