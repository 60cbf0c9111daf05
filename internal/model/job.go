package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/photomosaic/api/internal/mosaic"
)

// ErrInvalidTransition is returned when a job is asked to enter a state its
// current state does not lead to.
var ErrInvalidTransition = errors.New("invalid job state transition")

// MosaicJob is one render request and its artifacts. Preview and HQ renders
// share the same Grid and Matches; only the cell size differs.
type MosaicJob struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"currentStep,omitempty"`

	// Source is the stored path of the uploaded photograph.
	Source     string `json:"source"`
	SourceName string `json:"sourceName,omitempty"`

	Grid    *mosaic.Grid    `json:"grid,omitempty"`
	Matches *mosaic.Matches `json:"matches,omitempty"`
	Outputs Outputs         `json:"outputs"`

	// Cancelled is set when cancellation was requested; the running step
	// observes it at its next batch boundary.
	Cancelled bool             `json:"cancelled,omitempty"`
	ErrorKind mosaic.ErrorKind `json:"errorKind,omitempty"`
	Error     *string          `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Output describes one published canvas.
type Output struct {
	Tier      mosaic.Tier `json:"tier"`
	Path      string      `json:"path"`
	URL       string      `json:"url"`
	Format    string      `json:"format"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Size      int64       `json:"size"`
	Digest    string      `json:"digest"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Outputs holds the outputs produced so far, one per tier.
type Outputs struct {
	Preview *Output `json:"preview,omitempty"`
	HQ      *Output `json:"hq,omitempty"`
}

// Get returns the output for tier, or nil.
func (o Outputs) Get(tier mosaic.Tier) *Output {
	if tier == mosaic.TierHQ {
		return o.HQ
	}
	return o.Preview
}

// Set stores out under its tier.
func (o *Outputs) Set(out *Output) {
	if out.Tier == mosaic.TierHQ {
		o.HQ = out
		return
	}
	o.Preview = out
}

// NewMosaicJob creates a pending job for an uploaded photograph.
func NewMosaicJob(id, source, sourceName string) *MosaicJob {
	now := time.Now()
	return &MosaicJob{
		ID:          id,
		Status:      JobStatusPending,
		CurrentStep: "Queued",
		Source:      source,
		SourceName:  sourceName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the job to next, enforcing the lifecycle.
func (j *MosaicJob) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	now := time.Now()
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.Status = next
	j.UpdatedAt = now
	if next.Terminal() || next == JobStatusPreviewReady {
		j.CompletedAt = &now
	}
	return nil
}

// Fail records err and moves the job to failed. Jobs already in a terminal
// state are left unchanged and false is returned.
func (j *MosaicJob) Fail(err error) bool {
	if !j.Status.CanTransition(JobStatusFailed) {
		return false
	}
	now := time.Now()
	msg := err.Error()
	j.Status = JobStatusFailed
	j.ErrorKind = mosaic.Kind(err)
	j.Error = &msg
	j.UpdatedAt = now
	j.CompletedAt = &now
	return true
}

// Reset prepares a failed or finished job to be rendered again from scratch.
func (j *MosaicJob) Reset() {
	now := time.Now()
	j.Status = JobStatusPending
	j.Progress = 0
	j.CurrentStep = "Queued"
	j.Grid = nil
	j.Matches = nil
	j.Outputs = Outputs{}
	j.Cancelled = false
	j.ErrorKind = mosaic.KindNone
	j.Error = nil
	j.UpdatedAt = now
	j.StartedAt = nil
	j.CompletedAt = nil
}
