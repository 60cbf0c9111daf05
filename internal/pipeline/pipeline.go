// Package pipeline drives a mosaic job through its lifecycle:
// pending → matching → compositingPreview → previewReady → compositingHQ →
// hqReady, or failed. The HQ tier always reuses the grid and matches that
// were stored for the preview.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/photomosaic/api/internal/imageio"
	"github.com/photomosaic/api/internal/jobstore"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/photomosaic/api/internal/storage"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrJobBusy is returned when a render for the job is already running
	// in this process.
	ErrJobBusy = errors.New("job already has a render in flight")

	// ErrJobFinished is returned when cancelling a job that already ended
	// or rendering one that failed without being restarted.
	ErrJobFinished = errors.New("job already finished")

	// ErrNotFailed is returned when restarting a job that has not failed.
	ErrNotFailed = errors.New("only failed jobs can be restarted")

	// ErrNotReady is returned when an HQ render is requested before the
	// preview exists.
	ErrNotReady = errors.New("job has no preview to render in high quality")
)

// Codec decodes source photos and encodes finished canvases.
type Codec interface {
	mosaic.ImageIO
	DecodeFile(path string) (image.Image, error)
	EncodeBytes(img image.Image, format string) ([]byte, error)
	Encoder(format string) (imageio.Encoder, error)
}

// LibrarySource hands out the current tile library snapshot.
type LibrarySource interface {
	Get(ctx context.Context) (*mosaic.Library, error)
}

// Config holds the render settings.
type Config struct {
	Grid         mosaic.GridSpec
	TileSizeHQ   int
	Workers      int
	BatchRows    int
	OutputFormat string
	// CancelPollInterval controls how often a running render re-reads the
	// job record to notice cancellation requested by another process.
	// Zero disables polling.
	CancelPollInterval time.Duration
}

// Pipeline runs renders. It is safe for concurrent use by many jobs.
type Pipeline struct {
	cfg      Config
	library  LibrarySource
	store    jobstore.Store
	storage  storage.Storage
	codec    Codec
	notifier Notifier

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates a pipeline. A nil notifier disables notifications.
func New(cfg Config, library LibrarySource, store jobstore.Store, st storage.Storage, codec Codec, notifier Notifier) *Pipeline {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "jpeg"
	}
	return &Pipeline{
		cfg:      cfg,
		library:  library,
		store:    store,
		storage:  st,
		codec:    codec,
		notifier: notifier,
		running:  make(map[string]context.CancelFunc),
	}
}

// acquire takes the per-job execution token. The returned context is
// cancelled by Cancel or by release.
func (p *Pipeline) acquire(parent context.Context, jobID string) (context.Context, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.running[jobID]; busy {
		return nil, nil, ErrJobBusy
	}
	ctx, cancel := context.WithCancel(parent)
	p.running[jobID] = cancel

	if p.cfg.CancelPollInterval > 0 {
		go p.watchCancel(ctx, jobID, cancel)
	}

	release := func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
		cancel()
	}
	return ctx, release, nil
}

// watchCancel polls the job record and cancels ctx once the Cancelled flag
// shows up.
func (p *Pipeline) watchCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(p.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.store.Load(ctx, jobID)
			if err != nil {
				continue
			}
			if job.Cancelled {
				cancel()
				return
			}
		}
	}
}

// Running reports whether a render for jobID is in flight in this process.
func (p *Pipeline) Running(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[jobID]
	return ok
}

// RenderPreview matches the job's source photo against the tile library and
// publishes the preview canvas. A failed job is reset and rendered again
// from scratch.
func (p *Pipeline) RenderPreview(ctx context.Context, jobID string) (*model.MosaicJob, error) {
	ctx, release, err := p.acquire(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := p.advance(ctx, jobID, model.JobStatusMatching, 0, "Matching tiles...", func(j *model.MosaicJob) {
		j.Grid = nil
		j.Matches = nil
		j.Outputs = model.Outputs{}
	})
	if err != nil {
		return p.abort(ctx, jobID, err)
	}
	logger := log.WithField("job", jobID)

	lib, err := p.library.Get(ctx)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	src, err := p.codec.DecodeFile(job.Source)
	if err != nil {
		return p.fail(ctx, jobID, &mosaic.DecodeError{Path: job.SourceName, Err: err})
	}

	grid, err := mosaic.ComputeGrid(p.cfg.Grid)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	matcher := mosaic.Matcher{Workers: p.cfg.Workers, BatchRows: p.cfg.BatchRows}
	matches, err := matcher.MatchAll(ctx, src, grid, lib)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}
	logger.WithFields(log.Fields{
		"grid":      grid.String(),
		"fallbacks": matches.FallbackCount(),
	}).Debug("cells matched")

	_, err = p.advance(ctx, jobID, model.JobStatusCompositingPreview, 30, "Compositing preview...", func(j *model.MosaicJob) {
		j.Grid = &grid
		j.Matches = matches
	})
	if err != nil {
		return p.abort(ctx, jobID, err)
	}

	out, err := p.renderTier(ctx, jobID, grid, matches, lib, mosaic.TierPreview, 30)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	job, err = p.advance(ctx, jobID, model.JobStatusPreviewReady, 100, "Preview ready", func(j *model.MosaicJob) {
		j.Outputs.Set(out)
	})
	if err != nil {
		return p.abort(ctx, jobID, err)
	}

	p.notifier.Complete(jobID, job.Status, out)
	logger.WithField("output", out.Path).Info("preview published")
	return job, nil
}

// RenderHQ renders the stored matches at the HQ tile size. It never
// re-matches; running it twice yields identical output.
func (p *Pipeline) RenderHQ(ctx context.Context, jobID string) (*model.MosaicJob, error) {
	ctx, release, err := p.acquire(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := p.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Grid == nil || job.Matches == nil ||
		(job.Status != model.JobStatusPreviewReady && job.Status != model.JobStatusHQReady) {
		return nil, fmt.Errorf("%w (status %s)", ErrNotReady, job.Status)
	}

	job, err = p.advance(ctx, jobID, model.JobStatusCompositingHQ, 0, "Compositing high quality...", nil)
	if err != nil {
		return p.abort(ctx, jobID, err)
	}

	lib, err := p.library.Get(ctx)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	grid := job.Grid.Scale(p.cfg.TileSizeHQ)
	out, err := p.renderTier(ctx, jobID, grid, job.Matches, lib, mosaic.TierHQ, 0)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	job, err = p.advance(ctx, jobID, model.JobStatusHQReady, 100, "High quality ready", func(j *model.MosaicJob) {
		j.Outputs.Set(out)
	})
	if err != nil {
		return p.abort(ctx, jobID, err)
	}

	p.notifier.Complete(jobID, job.Status, out)
	log.WithFields(log.Fields{"job": jobID, "output": out.Path}).Info("hq published")
	return job, nil
}

// renderTier composites and publishes one tier. Progress is reported from
// base up to 95.
func (p *Pipeline) renderTier(ctx context.Context, jobID string, grid mosaic.Grid, matches *mosaic.Matches,
	lib *mosaic.Library, tier mosaic.Tier, base int) (*model.Output, error) {

	status := model.JobStatusCompositingPreview
	if tier == mosaic.TierHQ {
		status = model.JobStatusCompositingHQ
	}

	comp := mosaic.Compositor{
		Codec:     p.codec,
		Workers:   p.cfg.Workers,
		BatchRows: p.cfg.BatchRows,
		Progress: func(done, total int) {
			pct := base + (95-base)*done/total
			p.reportProgress(ctx, jobID, pct, status, fmt.Sprintf("Compositing rows %d/%d", done, total))
		},
	}

	canvas, err := comp.Render(ctx, grid, matches, lib, tier)
	if err != nil {
		return nil, err
	}
	return p.publish(ctx, jobID, tier, canvas)
}

// publish encodes canvas and hands it to storage. Nothing is written once
// ctx has been cancelled.
func (p *Pipeline) publish(ctx context.Context, jobID string, tier mosaic.Tier, canvas *image.RGBA) (*model.Output, error) {
	enc, err := p.codec.Encoder(p.cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	data, err := p.codec.EncodeBytes(canvas, enc.Format())
	if err != nil {
		return nil, fmt.Errorf("encode %s canvas: %w", tier, err)
	}

	key := fmt.Sprintf("%s/%s.%s", jobID, tier, enc.Extension())
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", mosaic.ErrCancelled, err)
	}

	final, err := p.storage.WriteOutput(ctx, data, key, enc.ContentType())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", mosaic.ErrCancelled, ctx.Err())
		}
		return nil, &mosaic.StorageWriteError{Path: key, Err: err}
	}

	b := canvas.Bounds()
	return &model.Output{
		Tier:      tier,
		Path:      final,
		URL:       p.storage.URL(key),
		Format:    enc.Format(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Size:      int64(len(data)),
		Digest:    imageio.ContentHash(data),
		CreatedAt: time.Now(),
	}, nil
}

// advance moves the job to next and saves it. A job flagged as cancelled
// refuses every transition.
func (p *Pipeline) advance(ctx context.Context, jobID string, next model.JobStatus, progress int, step string,
	mutate func(j *model.MosaicJob)) (*model.MosaicJob, error) {

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", mosaic.ErrCancelled, err)
	}

	job, err := p.store.Update(ctx, jobID, func(j *model.MosaicJob) error {
		if j.Status == model.JobStatusFailed {
			return fmt.Errorf("%w (status %s, %s)", ErrJobFinished, j.Status, j.ErrorKind)
		}
		if j.Cancelled {
			return mosaic.ErrCancelled
		}
		if err := j.Transition(next); err != nil {
			return err
		}
		j.Progress = progress
		j.CurrentStep = step
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.notifier.Progress(jobID, progress, next, step)
	return job, nil
}

func (p *Pipeline) reportProgress(ctx context.Context, jobID string, progress int, status model.JobStatus, step string) {
	_, err := p.store.Update(ctx, jobID, func(j *model.MosaicJob) error {
		if j.Status != status {
			return model.ErrInvalidTransition
		}
		j.Progress = progress
		j.CurrentStep = step
		j.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("job", jobID).Debug("progress not saved")
	}
	p.notifier.Progress(jobID, progress, status, step)
}

// abort handles errors from advance: lifecycle violations, failed and
// missing jobs are returned as is, everything else fails the job.
func (p *Pipeline) abort(ctx context.Context, jobID string, err error) (*model.MosaicJob, error) {
	if errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, ErrJobFinished) ||
		errors.Is(err, jobstore.ErrNotFound) {
		return nil, err
	}
	return p.fail(ctx, jobID, err)
}

// fail records err on the job. The write uses a context detached from
// cancellation so a cancelled render can still be recorded as such.
func (p *Pipeline) fail(ctx context.Context, jobID string, err error) (*model.MosaicJob, error) {
	kind := mosaic.Kind(err)
	logger := log.WithFields(log.Fields{"job": jobID, "kind": kind})
	if kind == mosaic.KindCancelled {
		logger.Info("render cancelled")
	} else {
		logger.WithError(err).Error("render failed")
	}

	saveCtx := context.WithoutCancel(ctx)
	job, uerr := p.store.Update(saveCtx, jobID, func(j *model.MosaicJob) error {
		if !j.Fail(err) {
			return model.ErrInvalidTransition
		}
		return nil
	})
	if uerr != nil {
		logger.WithError(uerr).Warn("could not record failure")
	} else {
		p.notifier.Progress(jobID, job.Progress, job.Status, job.CurrentStep)
	}
	p.notifier.Error(jobID, string(kind), err.Error())
	return job, err
}

// Cancel requests cancellation. A job with no step running fails right away
// with kind cancelled; a running step is interrupted at its next batch
// boundary and publishes nothing.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) (*model.MosaicJob, error) {
	job, err := p.store.Update(ctx, jobID, func(j *model.MosaicJob) error {
		if j.Status.Terminal() {
			return ErrJobFinished
		}
		j.Cancelled = true
		if !j.Status.Busy() {
			j.Fail(mosaic.ErrCancelled)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	cancel, running := p.running[jobID]
	p.mu.Unlock()
	if running {
		cancel()
	}

	if job.Status == model.JobStatusFailed {
		p.notifier.Error(jobID, string(mosaic.KindCancelled), mosaic.ErrCancelled.Error())
	}
	log.WithFields(log.Fields{"job": jobID, "running": running}).Info("cancel requested")
	return job, nil
}

// Restart puts a failed job back to pending, clearing its outputs and the
// cancel flag, so a new preview task can render it from scratch. A failed
// job is never picked up again without it.
func (p *Pipeline) Restart(ctx context.Context, jobID string) (*model.MosaicJob, error) {
	if p.Running(jobID) {
		return nil, ErrJobBusy
	}
	job, err := p.store.Update(ctx, jobID, func(j *model.MosaicJob) error {
		if j.Status != model.JobStatusFailed {
			return fmt.Errorf("%w (status %s)", ErrNotFailed, j.Status)
		}
		j.Reset()
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.notifier.Progress(jobID, job.Progress, job.Status, job.CurrentStep)
	log.WithField("job", jobID).Info("job restarted")
	return job, nil
}
