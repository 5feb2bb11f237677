package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/processor"
)

// ProgressObserver draws a unit progress bar for a single file run.
type ProgressObserver struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	phase  processor.Phase
	failed int
	mu     sync.Mutex
}

var _ processor.Observer = (*ProgressObserver)(nil)

// NewProgressObserver creates an observer that renders to writer.
func NewProgressObserver(writer io.Writer) *ProgressObserver {
	if writer == nil {
		writer = os.Stderr
	}
	return &ProgressObserver{writer: writer}
}

// PhaseChanged updates the bar description and finishes it on a terminal phase.
func (p *ProgressObserver) PhaseChanged(_ string, phase processor.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = phase
	if p.bar == nil {
		return
	}
	p.bar.Describe(describe(phase))
	if phase.Terminal() {
		_ = p.bar.Finish()
	}
}

// UnitsDecomposed creates the bar once the unit count is known.
func (p *ProgressObserver) UnitsDecomposed(_ string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(describe(processor.ProcessingUnits)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(p.writer)
		}),
	)
}

// UnitStarted is a no-op; the bar advances on completion.
func (p *ProgressObserver) UnitStarted(string, model.ContentUnit) {}

// UnitFinished advances the bar.
func (p *ProgressObserver) UnitFinished(_ string, _ model.ContentUnit, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failed++
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Failed returns how many units reported an error.
func (p *ProgressObserver) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Phase returns the last phase seen.
func (p *ProgressObserver) Phase() processor.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func describe(phase processor.Phase) string {
	return fmt.Sprintf("[cyan][bold]%s[reset]", phase)
}
