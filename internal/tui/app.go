// Package tui renders the live dashboard in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"vitalwatch/internal/model"
	"vitalwatch/internal/service"
)

const simulateTimeout = 15 * time.Second

// Source is the service contract the dashboard renders and drives.
type Source interface {
	State() service.State
	Subscribe() (<-chan struct{}, func())
	Simulate(ctx context.Context, accidentType model.AccidentType) error
	Refresh(stream string) bool
}

type changeMsg struct{}

type tickMsg time.Time

type simulateDoneMsg struct {
	accidentType model.AccidentType
	err          error
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	src     Source
	changes <-chan struct{}
	cancel  func()
	now     func() time.Time

	state  service.State
	width  int
	height int

	pending    bool
	message    string
	messageErr bool
	messageAt  time.Time
}

// NewModel subscribes to src. Call Close when the program ends.
func NewModel(src Source) Model {
	changes, cancel := src.Subscribe()
	return Model{
		src:     src,
		changes: changes,
		cancel:  cancel,
		now:     time.Now,
		state:   src.State(),
	}
}

// Close releases the change subscription.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source) error {
	m := NewModel(src)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), tick(time.Second))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changeMsg{}
	}
}

func simulate(src Source, accidentType model.AccidentType) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), simulateTimeout)
		defer cancel()
		return simulateDoneMsg{accidentType: accidentType, err: src.Simulate(ctx, accidentType)}
	}
}

var simulateKeys = map[string]model.AccidentType{
	"c": model.AccidentCarCrash,
	"f": model.AccidentFall,
	"s": model.AccidentSportsInjury,
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			snap := m.src.Refresh(service.StreamSnapshot)
			hist := m.src.Refresh(service.StreamHistory)
			if snap || hist {
				m.setMessage("Refresh requested", false)
			} else {
				m.setMessage("Poller is not running", true)
			}
			return m, nil
		}
		if accidentType, ok := simulateKeys[key]; ok {
			if m.pending {
				return m, nil
			}
			m.pending = true
			m.setMessage("Simulating "+accidentType.Label()+"...", false)
			return m, simulate(m.src, accidentType)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case changeMsg:
		m.state = m.src.State()
		return m, waitForChange(m.changes)
	case tickMsg:
		return m, tick(time.Second)
	case simulateDoneMsg:
		m.pending = false
		if msg.err != nil {
			m.setMessage("Simulate "+msg.accidentType.Label()+" failed: "+msg.err.Error(), true)
		} else {
			m.setMessage("Simulated "+msg.accidentType.Label()+"; visible on next refresh", false)
		}
	}
	return m, nil
}

func (m *Model) setMessage(text string, isErr bool) {
	m.message = text
	m.messageErr = isErr
	m.messageAt = m.now()
}
