package display

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const volumeStep = 10

// Controls are the device actions reachable from the keyboard. Nil entries are disabled.
type Controls struct {
	ToggleChat func()
	SetVolume  func(volume int) error
}

// snapshotMsg replaces the model's content.
type snapshotMsg Snapshot

// Model is the bubbletea model of the terminal display.
type Model struct {
	snap     Snapshot
	controls Controls
	err      string
	width    int
}

func NewModel(controls Controls) Model {
	return Model{controls: controls}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.snap = Snapshot(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		if m.controls.ToggleChat != nil {
			m.controls.ToggleChat()
		}
	case "up", "+":
		m.changeVolume(min(m.snap.Volume+volumeStep, 100))
	case "down", "-":
		m.changeVolume(max(m.snap.Volume-volumeStep, 0))
	}
	return m, nil
}

func (m *Model) changeVolume(volume int) {
	if m.controls.SetVolume == nil {
		return
	}
	if err := m.controls.SetVolume(volume); err != nil {
		m.err = err.Error()
		return
	}
	m.err = ""
	m.snap.Volume = volume
}

func (m Model) View() string {
	row := func(label, value string, style lipgloss.Style) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), style.Render(value))
	}
	lines := []string{
		titleStyle.Render("xiaozhi"),
		row("Connection", orDash(m.snap.Connection), connectionStyle(m.snap.Connection)),
		row("Status", orDash(m.snap.Status), valueStyle),
		row("Music", orDash(m.snap.MusicInfo), musicStyle),
		row("Volume", fmt.Sprintf("%s %d%%", bar(m.snap.Volume), m.snap.Volume), valueStyle),
		row("Brightness", fmt.Sprintf("%s %d%%", bar(m.snap.Brightness), m.snap.Brightness), valueStyle),
	}
	if m.err != "" {
		lines = append(lines, valueStyle.Foreground(errorColor).Render(m.err))
	}
	body := boxStyle.Render(strings.Join(lines, "\n"))
	return body + "\n" + helpStyle.Render("space: talk  ↑/↓: volume  q: quit") + "\n"
}

func bar(value int) string {
	const width = 10
	filled := max(0, min(value, 100)) * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// TUI is a full-screen terminal display. Setters are safe to call before Run
// and from any goroutine; the latest snapshot is forwarded to the program.
type TUI struct {
	state
	controls Controls
	notify   chan struct{}
}

func NewTUI(brightness, volume int, controls Controls) *TUI {
	t := &TUI{controls: controls, notify: make(chan struct{}, 1)}
	t.snap.Brightness = brightness
	t.snap.Volume = volume
	return t
}

func (t *TUI) changed() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *TUI) set(fn func(*Snapshot)) {
	t.update(fn)
	t.changed()
}

func (t *TUI) SetStatus(status string) { t.set(func(s *Snapshot) { s.Status = status }) }

func (t *TUI) SetMusicInfo(info string) { t.set(func(s *Snapshot) { s.MusicInfo = info }) }

func (t *TUI) SetVolume(volume int) { t.set(func(s *Snapshot) { s.Volume = volume }) }

func (t *TUI) SetConnection(state string) { t.set(func(s *Snapshot) { s.Connection = state }) }

func (t *TUI) SetBrightness(brightness int) error {
	if err := checkBrightness(brightness); err != nil {
		return err
	}
	t.set(func(s *Snapshot) { s.Brightness = brightness })
	return nil
}

// Run shows the display until ctx ends or the user quits.
func (t *TUI) Run(ctx context.Context, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	controls := t.controls
	if controls.SetVolume != nil {
		setVolume := controls.SetVolume
		controls.SetVolume = func(volume int) error {
			if err := setVolume(volume); err != nil {
				return err
			}
			t.update(func(s *Snapshot) { s.Volume = volume })
			return nil
		}
	}
	model := NewModel(controls)
	model.snap = t.Snapshot()

	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	program := tea.NewProgram(model, opts...)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.notify:
				program.Send(snapshotMsg(t.Snapshot()))
			}
		}
	}()

	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
