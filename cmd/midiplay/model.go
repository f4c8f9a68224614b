package main

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	"github.com/leandrodaf/midiplayback/sdk/playback"
	"github.com/leandrodaf/midiplayback/sdk/tempo"
)

const (
	progressWidth = 48
	speedStep     = 0.25
	minSpeed      = 0.25
	maxSpeed      = 4
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	playingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

type (
	positionMsg int64
	statusMsg   string
	notesMsg    struct{ started, finished []events.Note }
	errMsg      struct{ err error }
)

// bridge carries playback and watcher notifications into the program.
// Sends never block the notifying goroutine; a full queue drops the message.
type bridge struct {
	updates chan tea.Msg
}

func newBridge() *bridge {
	return &bridge{updates: make(chan tea.Msg, 256)}
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case b.updates <- msg:
	default:
	}
}

func (b *bridge) handlers() playback.Handlers {
	status := func(s string) func() { return func() { b.send(statusMsg(s)) } }
	return playback.Handlers{
		Started:       status("playing"),
		Stopped:       status("stopped"),
		Finished:      status("finished"),
		RepeatStarted: status("repeat"),
		NotesPlaybackStarted: func(n []events.Note) {
			b.send(notesMsg{started: n})
		},
		NotesPlaybackFinished: func(n []events.Note) {
			b.send(notesMsg{finished: n})
		},
		ErrorOccurred: func(err error) { b.send(errMsg{err}) },
	}
}

func (b *bridge) positions(batch []playback.CurrentTime) {
	for _, ct := range batch {
		if ticks, ok := ct.Time.(tempo.Ticks); ok {
			b.send(positionMsg(ticks))
		}
	}
}

func (b *bridge) listen() tea.Cmd {
	return func() tea.Msg {
		return <-b.updates
	}
}

type model struct {
	title    string
	p        *playback.Playback
	bridge   *bridge
	bars     *playback.SnapPointsGroup
	onsets   *playback.SnapPointsGroup
	tick     int64
	status   string
	sounding map[events.NoteID]events.Note
	err      error
	quitting bool
}

func newModel(title string, p *playback.Playback, b *bridge) (model, error) {
	bars, err := p.Snapping().SnapToGrid(playback.SteppedGrid{Steps: []tempo.Span{tempo.BarBeat{Bars: 1}}})
	if err != nil {
		return model{}, err
	}
	return model{
		title:    title,
		p:        p,
		bridge:   b,
		bars:     bars,
		onsets:   p.Snapping().SnapToNotesStarts(),
		status:   "stopped",
		sounding: make(map[events.NoteID]events.Note),
	}, nil
}

func (m model) Init() tea.Cmd {
	return m.bridge.listen()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case positionMsg:
		m.tick = int64(msg)
		return m, m.bridge.listen()

	case statusMsg:
		m.status = string(msg)
		if m.status != "playing" && m.status != "repeat" {
			clear(m.sounding)
		}
		return m, m.bridge.listen()

	case notesMsg:
		for _, n := range msg.finished {
			delete(m.sounding, n.ID())
		}
		for _, n := range msg.started {
			m.sounding[n.ID()] = n
		}
		return m, m.bridge.listen()

	case errMsg:
		m.err = msg.err
		return m, m.bridge.listen()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case " ":
		if m.p.IsRunning() {
			err = m.p.Stop()
		} else {
			err = m.p.Start()
		}

	case "left":
		err = m.p.MoveBack(tempo.Musical{Num: 1, Den: 4})
	case "right":
		err = m.p.MoveForward(tempo.Musical{Num: 1, Den: 4})
	case "[":
		_, err = m.p.MoveToPreviousSnapPoint(m.bars)
	case "]":
		_, err = m.p.MoveToNextSnapPoint(m.bars)
	case ",":
		_, err = m.p.MoveToPreviousSnapPoint(m.onsets)
	case ".":
		_, err = m.p.MoveToNextSnapPoint(m.onsets)
	case "home", "0":
		err = m.p.MoveToStart()

	case "l":
		m.p.SetLoop(!m.p.Loop())
	case "+", "=":
		err = m.p.SetSpeed(min(m.p.Speed()+speedStep, maxSpeed))
	case "-", "_":
		err = m.p.SetSpeed(max(m.p.Speed()-speedStep, minSpeed))
	case "p":
		m.p.SetNoteStopPolicy(nextPolicy(m.p.NoteStopPolicy()))
	case "t":
		err = m.p.SetTrackNotes(!m.p.TrackNotes())

	default:
		return m, nil
	}

	m.err = err
	m.tick = m.p.CurrentTick()
	return m, nil
}

func nextPolicy(p contracts.NoteStopPolicy) contracts.NoteStopPolicy {
	switch p {
	case contracts.Interrupt:
		return contracts.Hold
	case contracts.Hold:
		return contracts.Split
	default:
		return contracts.Interrupt
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	state := stoppedStyle.Render("■ " + strings.ToUpper(m.status))
	if m.p.IsRunning() {
		state = playingStyle.Render("▶ " + strings.ToUpper(m.status))
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(m.title), "  ", state)

	pos := m.p.TempoMap().ToBarBeat(m.tick)
	bpm := 60_000_000 / float64(m.p.TempoMap().TempoAt(m.tick).MicrosecondsPerQuarter)
	info := fmt.Sprintf("bar %d beat %d   %5.1f bpm   speed %.2fx   loop %s   stop %s   track notes %s",
		pos.Bars+1, pos.Beats+1, bpm, m.p.Speed(), onOff(m.p.Loop()), m.p.NoteStopPolicy(), onOff(m.p.TrackNotes()))

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		info,
		progressBar(m.tick, m.p.DurationTicks(), progressWidth),
		"",
		"notes "+noteStyle.Render(soundingNames(m.sounding)),
	)

	lines := []string{boxStyle.Render(body)}
	if m.err != nil {
		lines = append(lines, errorStyle.Render("error: "+m.err.Error()))
	}
	lines = append(lines, dimStyle.Render("space:play/stop  ←/→:beat  [/]:bar  ,/.:note  0:start  l:loop  +/-:speed  p:policy  t:track  q:quit"))
	return strings.Join(lines, "\n")
}

func progressBar(tick, duration int64, width int) string {
	filled := width
	if duration > 0 {
		filled = int(min(tick, duration) * int64(width) / duration)
	}
	return strings.Repeat("█", filled) + dimStyle.Render(strings.Repeat("░", width-filled))
}

func soundingNames(sounding map[events.NoteID]events.Note) string {
	if len(sounding) == 0 {
		return "-"
	}
	names := make([]string, 0, len(sounding))
	for _, n := range sortedNotes(sounding) {
		names = append(names, noteName(n.Key))
	}
	return strings.Join(names, " ")
}

func sortedNotes(sounding map[events.NoteID]events.Note) []events.Note {
	notes := make([]events.Note, 0, len(sounding))
	for _, n := range sounding {
		notes = append(notes, n)
	}
	slices.SortFunc(notes, func(a, b events.Note) int { return int(a.Key) - int(b.Key) })
	return notes
}

func noteName(key uint8) string {
	return fmt.Sprintf("%s%d", noteNames[key%12], int(key)/12-1)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
