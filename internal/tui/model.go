// Package tui is the terminal trigger for dictation: space starts and stops
// a recording, l arms the LLM bypass for the next one, q quits. The view
// shows the input level, the recording timer, the running pipeline stage
// and the last transcript, all fed from the event bus.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/notify"
)

// Key bindings.
const (
	keyToggle = " "
	keyBypass = "l"
	keyQuit   = "q"
	keyCtrlC  = "ctrl+c"
)

const (
	levelBarLen  = 24
	tickInterval = 100 * time.Millisecond
	errorTTL     = 5 * time.Second
)

// Controller is the part of [app.App] the UI drives.
type Controller interface {
	Toggle(ctx context.Context) (app.ToggleResult, error)
	ToggleBypassNext() bool
	Status() app.Status
}

// ── Messages ─────────────────────────────────────────────────────────────────

type eventMsg notify.Event

// busClosedMsg ends the event loop.
type busClosedMsg struct{}

type toggleDoneMsg struct {
	res app.ToggleResult
	err error
}

type tickMsg time.Time

type clearErrorMsg struct{ at time.Time }

// ── Model ────────────────────────────────────────────────────────────────────

// Model is the root bubbletea model.
type Model struct {
	ctrl   Controller
	events <-chan notify.Event
	now    func() time.Time

	recording  bool
	startedAt  time.Time
	elapsed    time.Duration
	level      float32
	bypassNext bool
	busy       bool // a stop is being processed
	stage      string
	transcript string
	degraded   []string

	errText string
	errAt   time.Time

	width int
}

// New returns a Model reading events from the given subscription.
func New(ctrl Controller, events <-chan notify.Event) Model {
	st := ctrl.Status()
	return Model{
		ctrl:       ctrl,
		events:     events,
		now:        time.Now,
		recording:  st.Recording,
		startedAt:  st.StartedAt,
		bypassNext: st.BypassNext,
	}
}

// Init starts the event loop and the timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), tick())
}

func waitEvent(ch <-chan notify.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// toggle runs on a bubbletea goroutine; stopping blocks until the pipeline
// is done.
func toggle(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		res, err := ctrl.Toggle(context.Background())
		return toggleDoneMsg{res: res, err: err}
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		cmd := m.handleEvent(notify.Event(msg))
		return m, tea.Batch(cmd, waitEvent(m.events))

	case busClosedMsg:
		return m, tea.Quit

	case toggleDoneMsg:
		if msg.err != nil {
			m.busy = false
			return m, m.setError(msg.err.Error())
		}
		if msg.res.Result != nil {
			m.busy = false
			m.transcript = msg.res.Result.Final
			m.degraded = msg.res.Result.Degraded
		}
		return m, nil

	case tickMsg:
		if m.recording {
			m.elapsed = time.Time(msg).Sub(m.startedAt)
		}
		return m, tick()

	case clearErrorMsg:
		if msg.at.Equal(m.errAt) {
			m.errText = ""
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyQuit, keyCtrlC:
		return m, tea.Quit
	case keyToggle:
		if m.busy {
			return m, nil
		}
		if m.recording {
			m.busy = true
		}
		return m, toggle(m.ctrl)
	case keyBypass:
		m.bypassNext = m.ctrl.ToggleBypassNext()
		return m, nil
	}
	return m, nil
}

func (m *Model) handleEvent(e notify.Event) tea.Cmd {
	switch e.Kind {
	case notify.KindLevel:
		m.level = e.Level
	case notify.KindRecordingStarted:
		m.recording = true
		m.startedAt = e.Time
		m.elapsed = 0
		m.stage = ""
		m.bypassNext = m.ctrl.Status().BypassNext
	case notify.KindRecordingStopped:
		m.recording = false
		m.level = 0
		m.elapsed = e.Duration
		m.busy = true
	case notify.KindCapReached:
		return m.setError("maximum recording length reached, stopping")
	case notify.KindStageStart:
		m.stage = e.Stage
	case notify.KindStageEnd:
		if m.stage == e.Stage {
			m.stage = ""
		}
	case notify.KindTranscript:
		m.busy = false
		m.stage = ""
		m.transcript = e.Text
	case notify.KindError:
		if e.Stage == app.StageCapture {
			m.recording = false
			m.busy = false
		}
		return m.setError(fmt.Sprintf("%s: %s", e.Stage, e.Error))
	}
	return nil
}

func (m *Model) setError(text string) tea.Cmd {
	at := m.now()
	m.errText, m.errAt = text, at
	return tea.Tick(errorTTL, func(time.Time) tea.Msg { return clearErrorMsg{at: at} })
}

// ── View ─────────────────────────────────────────────────────────────────────

// View renders the screen.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 60
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("MURMUR"))
	if m.bypassNext {
		b.WriteString("  " + bypassStyle.Render("LLM OFF (next)"))
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus() + "\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", width)) + "\n")

	text := m.transcript
	if text == "" {
		text = dimStyle.Render("No transcript yet.")
	}
	b.WriteString(transcriptBox.Width(max(width-4, 10)).Render(text) + "\n")
	if len(m.degraded) > 0 {
		b.WriteString(dimStyle.Render("skipped: "+strings.Join(m.degraded, ", ")) + "\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render("! "+m.errText) + "\n")
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderStatus() string {
	var parts []string
	switch {
	case m.recording:
		parts = append(parts,
			recordingStyle.Render("● REC"),
			formatElapsed(m.elapsed),
			renderLevel(m.level),
		)
	case m.busy || m.stage != "":
		parts = append(parts, stageStyle.Render("⟳ "+stageLabel(m.stage)))
	default:
		parts = append(parts, idleStyle.Render("○ IDLE"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderFooter() string {
	action := "record"
	if m.recording {
		action = "stop"
	}
	parts := []string{
		keyStyle.Render("space") + dimStyle.Render(" "+action),
		keyStyle.Render("l") + dimStyle.Render(" bypass llm"),
		keyStyle.Render("q") + dimStyle.Render(" quit"),
	}
	return strings.Join(parts, "  ")
}

func renderLevel(level float32) string {
	filled := min(max(int(level*levelBarLen+0.5), 0), levelBarLen)
	var b strings.Builder
	for i := range levelBarLen {
		switch {
		case i >= filled:
			b.WriteString(levelOffStyle.Render("░"))
		case float32(i)/levelBarLen > 0.7:
			b.WriteString(levelHighStyle.Render("█"))
		default:
			b.WriteString(levelLowStyle.Render("█"))
		}
	}
	return b.String()
}

func formatElapsed(d time.Duration) string {
	d = max(d, 0).Truncate(100 * time.Millisecond)
	return fmt.Sprintf("%02d:%02d.%d", int(d.Minutes()), int(d.Seconds())%60, int(d/(100*time.Millisecond))%10)
}

func stageLabel(stage string) string {
	switch stage {
	case notify.StageTranscribe:
		return "transcribing"
	case notify.StageDictionary:
		return "applying dictionary"
	case notify.StageLLM:
		return "refining"
	case notify.StageFormat:
		return "formatting"
	case notify.StagePersist:
		return "saving"
	default:
		return "processing"
	}
}

// Run shows the UI until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller, bus *notify.Bus) error {
	events, unsubscribe := bus.Subscribe(notify.DefaultBuffer)
	defer unsubscribe()

	p := tea.NewProgram(New(ctrl, events), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
