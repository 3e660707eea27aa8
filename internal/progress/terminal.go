package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/nullmedev/skylock/internal/util"
)

// Terminal reports progress with one progressbar.ProgressBar per phase,
// replacing the active bar whenever the phase changes.
type Terminal struct {
	out io.Writer

	mu      sync.Mutex
	current Phase
	bar     *progressbar.ProgressBar
	start   time.Time
}

// NewTerminal creates a terminal progress reporter writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Report(phase Phase, current, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if phase != t.current || t.bar == nil {
		if t.bar != nil {
			_ = t.bar.Finish()
		}
		t.current = phase
		t.start = time.Now()
		t.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(fmt.Sprintf("%s (%s)", phase, util.Sizeify(total))),
			progressbar.OptionSetWriter(t.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	_, speed, eta := util.Statify(current, total, t.start)
	t.bar.Describe(fmt.Sprintf("%s %.2f MiB/s eta %s", phase, speed, eta))
	_ = t.bar.Set64(current)
}

func (t *Terminal) Finish(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil && phase == t.current {
		_ = t.bar.Finish()
		t.bar = nil
	}
}

var _ Reporter = (*Terminal)(nil)
