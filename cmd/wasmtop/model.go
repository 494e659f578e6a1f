package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-core/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const pollInterval = 2 * time.Second

type viewState int

const (
	stateList viewState = iota
	stateLoadInput
)

type model struct {
	client   transport.Client
	binaries []transport.BinaryMetadataView
	selected int
	state    viewState
	input    textinput.Model
	message  string
	isError  bool
}

func newModel(socketPath string) *model {
	ti := textinput.New()
	ti.Placeholder = "/path/to/binary.wasm"
	ti.Prompt = "load: "
	ti.Width = 60
	return &model{
		client: transport.Client{SocketPath: socketPath},
		state:  stateList,
		input:  ti,
	}
}

type listMsg struct {
	binaries []transport.BinaryMetadataView
	err      error
}

type actionMsg struct {
	message string
	isError bool
}

type tickMsg time.Time

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) refresh() tea.Msg {
	var views []transport.BinaryMetadataView
	if err := m.client.SendTyped(transport.TypeListBinaries, nil, &views); err != nil {
		return listMsg{err: err}
	}
	return listMsg{binaries: views}
}

func (m *model) unloadSelected() tea.Cmd {
	if m.selected >= len(m.binaries) {
		return nil
	}
	id := m.binaries[m.selected].ID
	return func() tea.Msg {
		var out map[string]string
		if err := m.client.SendTyped(transport.TypeUnloadBinary, transport.UnloadBinaryPayload{BinaryID: id}, &out); err != nil {
			return actionMsg{message: err.Error(), isError: true}
		}
		return actionMsg{message: fmt.Sprintf("unloaded %s", id)}
	}
}

func (m *model) loadPath(path string) tea.Cmd {
	return func() tea.Msg {
		var out map[string]string
		if err := m.client.SendTyped(transport.TypeLoadBinary, transport.LoadBinaryPayload{Path: path}, &out); err != nil {
			return actionMsg{message: err.Error(), isError: true}
		}
		return actionMsg{message: fmt.Sprintf("loaded %s as %s", path, out["binary_id"])}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateLoadInput {
			switch msg.String() {
			case "esc":
				m.state = stateList
				m.input.Blur()
				m.input.SetValue("")
			case "enter":
				path := m.input.Value()
				m.state = stateList
				m.input.Blur()
				m.input.SetValue("")
				return m, m.loadPath(path)
			default:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				return m, cmd
			}
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.binaries)-1 {
				m.selected++
			}
		case "r":
			return m, m.refresh
		case "l":
			m.state = stateLoadInput
			m.input.Focus()
			return m, textinput.Blink
		case "u":
			return m, m.unloadSelected()
		}

	case listMsg:
		if msg.err != nil {
			m.message, m.isError = msg.err.Error(), true
		} else {
			m.binaries = msg.binaries
			if m.selected >= len(m.binaries) {
				m.selected = max(0, len(m.binaries)-1)
			}
		}

	case actionMsg:
		m.message, m.isError = msg.message, msg.isError
		return m, m.refresh

	case tickMsg:
		return m, tea.Batch(m.refresh, tick())
	}

	return m, nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmtop"))
	b.WriteString(" ")
	b.WriteString(m.client.SocketPath)
	b.WriteString("\n\n")

	if m.state == stateLoadInput {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter load • esc cancel"))
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-38s %-10s %8s  %s", "ID", "HASH", "BYTES", "LOADED AT")))
	b.WriteString("\n")

	if len(m.binaries) == 0 {
		b.WriteString("  (no binaries loaded)\n")
	}
	for i, bin := range m.binaries {
		hash := bin.ContentHash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		row := fmt.Sprintf("%-38s %-10s %8d  %s", bin.ID, hash, bin.ByteSize, bin.LoadedAt)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.message != "" {
		style := okStyle
		if m.isError {
			style = errStyle
		}
		b.WriteString(style.Render(m.message))
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • l load • u unload • r refresh • q quit"))
	return b.String()
}
