package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/vanpelt/claude-blocker/internal/models"
	"github.com/vanpelt/claude-blocker/internal/tui/components"
)

// Model is the session monitor's state
type Model struct {
	serverURL string

	connected  bool
	hasState   bool
	state      models.StateSnapshot
	lastUpdate time.Time
	err        error

	showTools bool
	spinner   spinner.Model
	width     int
	height    int
	now       func() time.Time
}

// NewModel creates the monitor for the tracker at serverURL
func NewModel(serverURL string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(components.ColorSuccess))
	return Model{
		serverURL: serverURL,
		spinner:   s,
		showTools: true,
		now:       time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case components.KeyQuit, components.KeyQuitAlt:
			return m, tea.Quit
		case components.KeyTools:
			m.showTools = !m.showTools
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case connectedMsg:
		m.connected = true
		m.err = nil
		return m, nil

	case disconnectedMsg:
		m.connected = false
		m.err = msg.err
		return m, nil

	case stateMsg:
		m.state = models.StateSnapshot(msg)
		m.hasState = true
		m.lastUpdate = m.now()
		return m, nil

	case tickMsg:
		// re-render so durations advance
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}
