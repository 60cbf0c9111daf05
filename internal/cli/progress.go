package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/photomosaic/api/internal/model"
)

// progressPrinter writes pipeline updates to the terminal, one line per
// change of step or every ten percent.
type progressPrinter struct {
	w io.Writer

	mu   sync.Mutex
	last int
	step model.JobStatus
}

func (p *progressPrinter) Progress(_ string, progress int, status model.JobStatus, step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.step && progress < p.last+10 && progress != 100 {
		return
	}
	p.step, p.last = status, progress
	fmt.Fprintf(p.w, "  [%3d%%] %s\n", progress, step)
}

func (p *progressPrinter) Complete(_ string, _ model.JobStatus, out *model.Output) {
	if out == nil {
		return
	}
	fmt.Fprintf(p.w, "  wrote %s\n", out.Path)
}

func (p *progressPrinter) Error(_ string, code, message string) {
	fmt.Fprintf(p.w, "  error (%s): %s\n", code, message)
}
