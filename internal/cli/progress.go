package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"hlsdl/internal/fetch"
	"hlsdl/internal/util"
)

const renderInterval = 200 * time.Millisecond

type progressState struct {
	done   int
	failed int
	total  int
	bytes  int64
	speed  float64
	eta    time.Duration
}

type progressManager struct {
	mu         sync.Mutex
	out        io.Writer
	order      []string
	states     map[string]progressState
	enabled    bool
	lastRender time.Time
	drawn      bool
}

var outputMu sync.Mutex

var defaultProgressManager = &progressManager{
	out:     os.Stdout,
	order:   make([]string, 0, 16),
	states:  make(map[string]progressState, 16),
	enabled: isTerminal(os.Stdout),
}

// DownloadProgress renders a terminal progress indicator for one track.
type DownloadProgress struct {
	label string
}

// NewDownloadProgress creates a progress renderer for one track.
func NewDownloadProgress(label string) *DownloadProgress {
	return &DownloadProgress{label: label}
}

// Update refreshes the in-place progress line.
//
// If total is not known, it leaves output unchanged.
func (p *DownloadProgress) Update(pr fetch.Progress) {
	if pr.Total <= 0 {
		return
	}
	defaultProgressManager.update(p.label, progressState{
		done:   pr.Written,
		failed: pr.Failed,
		total:  pr.Total,
		bytes:  pr.BytesWritten,
		speed:  pr.SpeedMBps,
		eta:    pr.ETA,
	})
}

// Stop finalizes progress rendering with a summary line for the track.
func (p *DownloadProgress) Stop() {
	defaultProgressManager.stop(p.label)
}

func (m *progressManager) update(label string, st progressState) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[label]; !ok {
		m.order = append(m.order, label)
	}
	m.states[label] = st
	if time.Since(m.lastRender) < renderInterval {
		return
	}
	m.lastRender = time.Now()

	outputMu.Lock()
	defer outputMu.Unlock()
	parts := make([]string, 0, len(m.order))
	for _, l := range m.order {
		parts = append(parts, formatState(l, m.states[l]))
	}
	fmt.Fprintf(m.out, "\r\033[K%s", strings.Join(parts, " | "))
	m.drawn = true
}

func (m *progressManager) stop(label string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[label]
	if !ok {
		return
	}
	delete(m.states, label)
	m.removeLabelLocked(label)

	outputMu.Lock()
	defer outputMu.Unlock()
	m.clearLineLocked(m.out)
	fmt.Fprintf(m.out, "%s: %d/%d", label, state.done, state.total)
	if state.failed > 0 {
		fmt.Fprintf(m.out, " (%d failed)", state.failed)
	}
	fmt.Fprintf(m.out, " %s\n", util.FormatBytes(state.bytes))
}

// clearLineLocked erases a drawn progress line before other output. The
// caller holds outputMu.
func (m *progressManager) clearLineLocked(w io.Writer) {
	if !m.drawn || w != m.out {
		return
	}
	fmt.Fprint(m.out, "\r\033[K")
	m.drawn = false
}

func (m *progressManager) removeLabelLocked(label string) {
	for i, v := range m.order {
		if v != label {
			continue
		}
		m.order = append(m.order[:i], m.order[i+1:]...)
		return
	}
}

func formatState(label string, st progressState) string {
	pct := 0
	if st.total > 0 {
		pct = st.done * 100 / st.total
	}
	return fmt.Sprintf("%s %d/%d %d%% %s ETA %s", label, st.done, st.total, pct,
		util.FormatSpeed(st.speed), util.FormatDuration(st.eta))
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
