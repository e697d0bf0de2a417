package downloader

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// Reporter is told about the attempt currently transferring. Calls for one
// attempt are never concurrent.
type Reporter interface {
	Started(a *models.DownloadAttempt)
	// Progress reports the bytes so far and the current rate in bytes/s
	Progress(a *models.DownloadAttempt, rate float64)
	Finished(a *models.DownloadAttempt)
}

// NopReporter discards progress
type NopReporter struct{}

func (NopReporter) Started(*models.DownloadAttempt)           {}
func (NopReporter) Progress(*models.DownloadAttempt, float64) {}
func (NopReporter) Finished(*models.DownloadAttempt)          {}

// describe renders "12 MB / 300 MB at 2.1 MB/s", or the byte count alone
// when the size is unknown
func describe(a *models.DownloadAttempt, rate float64) string {
	done := humanize.Bytes(uint64(max(a.BytesTransferred, 0)))
	speed := humanize.Bytes(uint64(max(rate, 0))) + "/s"
	if a.TotalBytes > 0 {
		return fmt.Sprintf("%s / %s at %s", done, humanize.Bytes(uint64(a.TotalBytes)), speed)
	}
	return fmt.Sprintf("%s at %s", done, speed)
}

// LogReporter writes progress lines through the logger, at most one per
// Interval
type LogReporter struct {
	Interval time.Duration
	last     time.Time
}

func (r *LogReporter) Started(a *models.DownloadAttempt) {
	r.last = time.Time{}
	size := "unknown size"
	if a.TotalBytes > 0 {
		size = humanize.Bytes(uint64(a.TotalBytes))
	}
	util.Info("Downloading", "server", a.Link.Host, "size", size, "to", a.Destination)
}

func (r *LogReporter) Progress(a *models.DownloadAttempt, rate float64) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if time.Since(r.last) < interval {
		return
	}
	r.last = time.Now()
	util.Info("Progress", "server", a.Link.Host, "transferred", describe(a, rate))
}

func (r *LogReporter) Finished(a *models.DownloadAttempt) {
	if a.Status == models.AttemptCompleted {
		util.Info("Download finished", "server", a.Link.Host, "size", humanize.Bytes(uint64(max(a.BytesTransferred, 0))))
		return
	}
	util.Warn("Download attempt failed", "server", a.Link.Host, "err", a.Err)
}

// TUIReporter draws a progress bar per attempt
type TUIReporter struct {
	Output io.Writer

	program *tea.Program
	model   *progressModel
	done    chan struct{}
}

func (r *TUIReporter) Started(a *models.DownloadAttempt) {
	out := r.Output
	if out == nil {
		out = os.Stderr
	}
	r.model = &progressModel{
		progress: progress.New(progress.WithDefaultGradient()),
		source:   a.Link.Host,
		total:    a.TotalBytes,
	}
	r.program = tea.NewProgram(r.model, tea.WithOutput(out), tea.WithInput(nil))
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		if _, err := r.program.Run(); err != nil {
			util.Debug("progress display error", "err", err)
		}
	}()
}

func (r *TUIReporter) Progress(a *models.DownloadAttempt, rate float64) {
	if r.program == nil {
		return
	}
	r.program.Send(progressMsg{received: a.BytesTransferred, total: a.TotalBytes, rate: rate})
}

func (r *TUIReporter) Finished(a *models.DownloadAttempt) {
	if r.program == nil {
		return
	}
	status := "Download completed!"
	if a.Status != models.AttemptCompleted {
		status = fmt.Sprintf("Download failed: %v", a.Err)
	}
	r.program.Send(progressMsg{received: a.BytesTransferred, total: a.TotalBytes})
	r.program.Send(statusMsg(status))
	r.model.finish()
	r.program.Quit()
	<-r.done
	r.program = nil
}

type statusMsg string

type tickMsg time.Time

// progressMsg represents a progress update message
type progressMsg struct {
	received int64
	total    int64
	rate     float64
}

// progressModel for tea progress display
type progressModel struct {
	progress progress.Model
	source   string
	total    int64
	received int64
	rate     float64
	status   string
	done     bool
	mu       sync.Mutex
}

func (m *progressModel) finish() {
	m.mu.Lock()
	m.done = true
	m.mu.Unlock()
}

// tickCmd returns a command that sends a tick message after a delay
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *progressModel) Init() tea.Cmd {
	return tickCmd()
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.mu.Lock()
		done := m.done
		m.mu.Unlock()
		if done {
			return m, tea.Quit
		}
		return m, tickCmd()
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case progressMsg:
		m.mu.Lock()
		m.received = msg.received
		m.total = msg.total
		m.rate = msg.rate
		var cmd tea.Cmd
		if m.total > 0 {
			cmd = m.progress.SetPercent(float64(m.received) / float64(m.total))
		}
		m.mu.Unlock()
		return m, cmd
	case progress.FrameMsg:
		newModel, cmd := m.progress.Update(msg)
		m.progress = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &models.DownloadAttempt{BytesTransferred: m.received, TotalBytes: m.total}
	line := describe(a, m.rate)
	if m.status != "" {
		line = m.status
	}
	if m.total <= 0 {
		// no size announced: byte count only
		return fmt.Sprintf("Source: %s\n%s\n", m.source, line)
	}
	return fmt.Sprintf("Source: %s\n%s\n%s\n", m.source, m.progress.View(), line)
}
