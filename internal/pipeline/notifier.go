package pipeline

import "github.com/photomosaic/api/internal/model"

// Notifier receives job updates as they are saved. Implementations must not
// block; the websocket hub drops messages for slow subscribers.
type Notifier interface {
	Progress(jobID string, progress int, status model.JobStatus, step string)
	Complete(jobID string, status model.JobStatus, out *model.Output)
	Error(jobID, code, message string)
}

// NopNotifier discards every update.
type NopNotifier struct{}

func (NopNotifier) Progress(string, int, model.JobStatus, string) {}
func (NopNotifier) Complete(string, model.JobStatus, *model.Output) {}
func (NopNotifier) Error(string, string, string) {}
