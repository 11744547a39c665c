package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rorqualx/pagesnap/internal/capture"
	"github.com/Rorqualx/pagesnap/internal/security"
	"github.com/Rorqualx/pagesnap/internal/types"
)

const progressTick = 100 * time.Millisecond

var (
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	spinnerDots = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

type tickMsg time.Time

type resultMsg struct {
	size int
	err  error
}

// progressModel renders a single capture: target, device, elapsed time and
// the final outcome.
type progressModel struct {
	target  string
	device  string
	start   time.Time
	elapsed time.Duration
	frame   int

	cancel    context.CancelFunc
	canceling bool

	done bool
	size int
	err  error
}

func newProgressModel(req capture.Request, cancel context.CancelFunc, start time.Time) progressModel {
	device := string(req.Device)
	if req.Device == "" {
		device = "desktop"
	}
	return progressModel{
		target: security.RedactURL(req.URL),
		device: device,
		start:  start,
		cancel: cancel,
	}
}

func tick() tea.Cmd {
	return tea.Tick(progressTick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m progressModel) Init() tea.Cmd {
	return tick()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.start)
		m.frame = (m.frame + 1) % len(spinnerDots)
		return m, tick()

	case resultMsg:
		m.done = true
		m.size = msg.size
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// The engine unwinds and releases its session; the result
			// message still ends the program.
			if !m.canceling && m.cancel != nil {
				m.canceling = true
				m.cancel()
			}
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	elapsed := m.elapsed.Round(100 * time.Millisecond)

	switch {
	case m.done && m.err == nil:
		fmt.Fprintf(&b, "%s %s %s\n", okStyle.Render("✓"), m.target,
			dimStyle.Render(fmt.Sprintf("%s, %d bytes, %s", m.device, m.size, elapsed)))
	case m.done:
		kind := types.KindOf(m.err)
		fmt.Fprintf(&b, "%s %s %s\n", failStyle.Render("✗"), m.target,
			dimStyle.Render(fmt.Sprintf("%s after %s", kind, elapsed)))
	default:
		status := "capturing"
		if m.canceling {
			status = "canceling"
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", spinnerDots[m.frame], labelStyle.Render(status), m.target,
			dimStyle.Render(fmt.Sprintf("(%s, %s)", m.device, elapsed)))
	}
	return b.String()
}

// captureWithProgress runs fn while a progress view is drawn on out.
// Interrupting the view cancels the capture.
func captureWithProgress(ctx context.Context, out io.Writer, req capture.Request, fn captureFunc) (*capture.Image, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(req, cancel, time.Now()), tea.WithOutput(out))

	var (
		img    *capture.Image
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		img, runErr = fn(ctx)
		size := 0
		if img != nil {
			size = len(img.Bytes)
		}
		p.Send(resultMsg{size: size, err: runErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		if runErr == nil {
			runErr = fmt.Errorf("progress view failed: %w", err)
		}
		return img, runErr
	}
	<-done
	return img, runErr
}
