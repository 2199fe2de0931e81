package watch

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"clipsmith/store"
)

// StatusUpdateMsg is sent when a poll of the API completes
type StatusUpdateMsg struct {
	Active []store.StatusProjection
	Errors []ErrorEntry
	Err    error
}

// TickMsg is sent periodically to trigger polling
type TickMsg struct {
	Time time.Time
}

// Model is the pipeline status monitor (thin polling client)
type Model struct {
	Client *StatusClient

	Active    []store.StatusProjection
	Errors    []ErrorEntry
	Connected bool
	LastPoll  time.Time
	Err       error
}

// NewModel creates a monitor polling the given API base URL.
func NewModel(apiURL string) Model {
	return Model{
		Client: NewStatusClient(apiURL),
	}
}

// Init implements tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		pollStatus(m.Client),
		tickCmd(),
	)
}

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r", "R":
			return m, pollStatus(m.Client)
		}
	case TickMsg:
		return m, tea.Batch(pollStatus(m.Client), tickCmd())
	case StatusUpdateMsg:
		if msg.Err != nil {
			m.Connected = false
			m.Err = msg.Err
			return m, nil
		}
		m.Connected = true
		m.Err = nil
		m.Active = msg.Active
		m.Errors = msg.Errors
		m.LastPoll = time.Now()
		return m, nil
	}
	return m, nil
}

// pollStatus creates a command that polls both projections
func pollStatus(client *StatusClient) tea.Cmd {
	return func() tea.Msg {
		active, err := client.ActiveVideos()
		if err != nil {
			return StatusUpdateMsg{Err: err}
		}
		errors, err := client.RecentErrors()
		if err != nil {
			return StatusUpdateMsg{Err: err}
		}
		return StatusUpdateMsg{Active: active, Errors: errors}
	}
}

// tickCmd creates a command that ticks every 2s for polling
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
