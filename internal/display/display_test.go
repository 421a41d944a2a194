package display

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestLoggingDisplayTracksState(t *testing.T) {
	d := NewLogging(80, nil)
	d.SetStatus("connecting")
	d.SetMusicInfo("Song playing...")
	if err := d.SetBrightness(40); err != nil {
		t.Fatalf("SetBrightness error: %v", err)
	}
	snap := d.Snapshot()
	if snap.Status != "connecting" || snap.MusicInfo != "Song playing..." || snap.Brightness != 40 {
		t.Fatalf("snapshot=%+v", snap)
	}
	for _, v := range []int{-1, 101} {
		if err := d.SetBrightness(v); !errors.Is(err, ErrBrightnessRange) {
			t.Fatalf("SetBrightness(%d) error=%v, want ErrBrightnessRange", v, err)
		}
	}
	if d.Snapshot().Brightness != 40 {
		t.Fatalf("brightness changed by rejected value: %d", d.Snapshot().Brightness)
	}
}

func TestTUISettersWorkWithoutProgram(t *testing.T) {
	d := NewTUI(100, 70, Controls{})
	d.SetStatus("a")
	d.SetStatus("b")
	d.SetMusicInfo("m")
	d.SetConnection("connected")
	if snap := d.Snapshot(); snap.Status != "b" || snap.MusicInfo != "m" || snap.Connection != "connected" || snap.Volume != 70 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(d.notify) != 1 {
		t.Fatalf("pending notifications=%d, want 1", len(d.notify))
	}
}

func TestModelRendersSnapshot(t *testing.T) {
	m := NewModel(Controls{})
	next, _ := m.Update(snapshotMsg(Snapshot{Status: "listening", MusicInfo: "Song playing...", Volume: 50, Connection: "connected"}))
	view := next.View()
	for _, want := range []string{"listening", "Song playing...", "50%", "connected"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelKeys(t *testing.T) {
	toggled := 0
	var volumes []int
	m := NewModel(Controls{
		ToggleChat: func() { toggled++ },
		SetVolume: func(v int) error {
			volumes = append(volumes, v)
			if v > 60 {
				return errors.New("too loud")
			}
			return nil
		},
	})
	m.snap.Volume = 50

	var model tea.Model = m
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	if toggled != 1 {
		t.Fatalf("toggled=%d, want 1", toggled)
	}
	if len(volumes) != 2 || volumes[0] != 60 || volumes[1] != 70 {
		t.Fatalf("volumes=%v, want [60 70]", volumes)
	}
	got := model.(Model)
	if got.snap.Volume != 60 || got.err != "too loud" {
		t.Fatalf("volume=%d err=%q", got.snap.Volume, got.err)
	}

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}
