package model

import (
	"time"

	"github.com/photomosaic/api/internal/mosaic"
)

// StartMosaicResponse is returned when a photo has been accepted
type StartMosaicResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// HQRequest identifies the job of an HQ or retry request
type HQRequest struct {
	JobID string `params:"jobId" validate:"required,uuid"`
}

// HQResponse is returned when the HQ render was queued
type HQResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// MosaicStatusResponse represents the status of a mosaic job
type MosaicStatusResponse struct {
	JobID       string           `json:"jobId"`
	Status      JobStatus        `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"currentStep,omitempty"`
	ErrorKind   mosaic.ErrorKind `json:"errorKind,omitempty"`
	Error       *string          `json:"error,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// MosaicResultResponse describes the outputs of a job
type MosaicResultResponse struct {
	JobID     string       `json:"jobId"`
	Status    JobStatus    `json:"status"`
	Grid      *mosaic.Grid `json:"grid,omitempty"`
	Fallbacks int          `json:"fallbacks"`
	Preview   *Output      `json:"preview,omitempty"`
	HQ        *Output      `json:"hq,omitempty"`
}

// CancelResponse is returned after a cancel request
type CancelResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Cancelled bool      `json:"cancelled"`
}

// DecorationsRequest holds the query of the decorations endpoint
type DecorationsRequest struct {
	N    int   `query:"n" validate:"omitempty,min=1,max=500"`
	Seed int64 `query:"seed"`
}

// DecorationsResponse lists decorative tiles with their positions
type DecorationsResponse struct {
	Tiles    []mosaic.Decoration `json:"tiles"`
	TileSize int                 `json:"tileSize"`
	Canvas   mosaic.Grid         `json:"canvas"`
}

// MosaicTaskPayload is the asynq payload for preview and HQ tasks
type MosaicTaskPayload struct {
	JobID string `json:"jobId"`
}
