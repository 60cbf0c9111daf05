// Package jobstore persists mosaic job records. The render pipeline treats
// the store as externally durable and never caches jobs itself.
package jobstore

import (
	"context"
	"errors"

	"github.com/photomosaic/api/internal/model"
)

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("job not found")

// Store loads and saves job records.
type Store interface {
	Save(ctx context.Context, job *model.MosaicJob) error
	Load(ctx context.Context, jobID string) (*model.MosaicJob, error)
	// Update applies fn to the current record and saves the result
	// atomically with respect to other Update calls.
	Update(ctx context.Context, jobID string, fn func(job *model.MosaicJob) error) (*model.MosaicJob, error)
}
