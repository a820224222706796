package sink

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kevmo314/go-v4l2"
)

// Progress prints one dot per frame and logs the instantaneous frame rate
// at debug level.
type Progress struct {
	mu     sync.Mutex
	w      io.Writer
	log    *slog.Logger
	now    func() time.Time
	last   time.Time
	frames uint64
}

// NewProgress writes dots to w. A nil log discards the rate lines.
func NewProgress(w io.Writer, log *slog.Logger) *Progress {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Progress{w: w, log: log, now: time.Now}
}

func (p *Progress) Handle(f v4l2.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.last.IsZero() && now.After(p.last) {
		p.log.Debug("frame",
			"sequence", f.Sequence,
			"bytes", len(f.Data),
			"fps", rate(now.Sub(p.last)))
	}
	p.last = now
	p.frames++

	_, err := io.WriteString(p.w, ".")
	return err
}

// Frames returns how many frames have been seen.
func (p *Progress) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Close ends the dotted line.
func (p *Progress) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames == 0 {
		return nil
	}
	_, err := io.WriteString(p.w, "\n")
	return err
}

func rate(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}
