package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/pipeline"
)

var _ pipeline.Notifier = (*Hub)(nil)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHubDeliversToJobSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	mine := &Client{JobID: "job-a", Send: make(chan []byte, 8)}
	other := &Client{JobID: "job-b", Send: make(chan []byte, 8)}
	hub.Register(mine)
	hub.Register(other)

	hub.Progress("job-a", 40, model.JobStatusCompositingPreview, "Compositing rows 4/10")

	var progress model.WSProgressMessage
	if err := json.Unmarshal(receive(t, mine), &progress); err != nil {
		t.Fatal(err)
	}
	if progress.Type != model.WSMessageTypeProgress || progress.Progress != 40 ||
		progress.Status != model.JobStatusCompositingPreview {
		t.Errorf("unexpected progress message: %+v", progress)
	}

	hub.Complete("job-a", model.JobStatusPreviewReady, &model.Output{URL: "/output/job-a/preview.jpg"})
	var complete model.WSCompleteMessage
	if err := json.Unmarshal(receive(t, mine), &complete); err != nil {
		t.Fatal(err)
	}
	if complete.Output == nil || complete.Output.URL != "/output/job-a/preview.jpg" {
		t.Errorf("unexpected complete message: %+v", complete)
	}

	hub.Error("job-a", "cancelled", "render cancelled")
	var failed model.WSErrorMessage
	if err := json.Unmarshal(receive(t, mine), &failed); err != nil {
		t.Fatal(err)
	}
	if failed.Error.Code != "cancelled" {
		t.Errorf("error code = %q", failed.Error.Code)
	}

	select {
	case msg := <-other.Send:
		t.Errorf("subscriber of another job received %s", msg)
	default:
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := &Client{JobID: "job", Send: make(chan []byte, 1)}
	hub.Register(c)
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Error("send channel should be closed after unregister")
	}
	if n := hub.Subscribers("job"); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestHubReplaysLatestUpdate(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// A subscriber makes sure both broadcasts were handled before the late
	// client registers.
	early := &Client{JobID: "job", Send: make(chan []byte, 8)}
	hub.Register(early)

	hub.Progress("job", 10, model.JobStatusMatching, "Matching tiles")
	hub.Progress("job", 35, model.JobStatusCompositingPreview, "Compositing")
	receive(t, early)
	receive(t, early)

	late := &Client{JobID: "job", Send: make(chan []byte, 8)}
	hub.Register(late)

	var progress model.WSProgressMessage
	if err := json.Unmarshal(receive(t, late), &progress); err != nil {
		t.Fatal(err)
	}
	if progress.Progress != 35 {
		t.Errorf("replayed progress = %d, want 35", progress.Progress)
	}

	hub.Complete("job", model.JobStatusHQReady, &model.Output{URL: "/output/job/hq.jpg"})
	receive(t, early)
	receive(t, late)

	after := &Client{JobID: "job", Send: make(chan []byte, 8)}
	hub.Register(after)
	hub.Unregister(after)
	if msg, ok := <-after.Send; ok {
		t.Errorf("finished job replayed %s", msg)
	}
}
