package model

// Job status
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusMatching           JobStatus = "matching"
	JobStatusCompositingPreview JobStatus = "compositingPreview"
	JobStatusPreviewReady       JobStatus = "previewReady"
	JobStatusCompositingHQ      JobStatus = "compositingHQ"
	JobStatusHQReady            JobStatus = "hqReady"
	JobStatusFailed             JobStatus = "failed"
)

// transitions lists the allowed next states. Failed is reachable from every
// state that is not itself terminal, see CanTransition.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:            {JobStatusMatching},
	JobStatusMatching:           {JobStatusCompositingPreview},
	JobStatusCompositingPreview: {JobStatusPreviewReady},
	JobStatusPreviewReady:       {JobStatusCompositingHQ},
	JobStatusCompositingHQ:      {JobStatusHQReady},
	// an HQ render may be repeated; it reuses the stored matches
	JobStatusHQReady: {JobStatusCompositingHQ},
}

// CanTransition reports whether a job in s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if next == JobStatusFailed {
		return s != JobStatusFailed && s != JobStatusHQReady
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the job has reached an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusHQReady || s == JobStatusFailed
}

// Busy reports whether a composition step is running for the job.
func (s JobStatus) Busy() bool {
	switch s {
	case JobStatusMatching, JobStatusCompositingPreview, JobStatusCompositingHQ:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusMatching, JobStatusCompositingPreview,
		JobStatusPreviewReady, JobStatusCompositingHQ, JobStatusHQReady, JobStatusFailed:
		return true
	}
	return false
}

// Task types
const (
	TaskTypePreview = "mosaic:preview"
	TaskTypeHQ      = "mosaic:hq"
)

// Queue names
const (
	QueueRender = "render"
	QueueHQ     = "hq"
)
