package cmd

import (
	"fmt"
	"os"
	"os/exec"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pop-os/launcher/internal/codec"
	"github.com/pop-os/launcher/internal/protocol"
)

// newProbeCommand launches a minimal interactive frontend against a service
// child process. It exists to exercise plugins by hand; production
// frontends ship separately.
func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Interactively drive a launcher service for debugging",
		Long: `Probe spawns a launcher service as a child process and attaches a
minimal search UI to it. Type to search, arrows to select, enter to
activate, tab to complete, esc to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe()
		},
	}
}

func runProbe() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	child := exec.Command(self)
	child.Stderr = os.Stderr

	stdin, err := child.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return err
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	model := probeModel{enc: codec.NewEncoder(stdin)}
	program := tea.NewProgram(model, tea.WithAltScreen())

	// Stream service responses into the UI.
	go func() {
		scanner := codec.NewScanner(stdout)
		for scanner.Scan() {
			var resp protocol.Response
			if err := codec.Decode(scanner.Bytes(), &resp); err != nil {
				continue
			}
			program.Send(responseMsg(resp))
		}
		program.Send(serviceGoneMsg{})
	}()

	_, err = program.Run()
	_ = model.enc.Emit(protocol.Exit())
	_ = child.Wait()
	return err
}

type responseMsg protocol.Response

type serviceGoneMsg struct{}

var (
	probeQueryStyle    = lipgloss.NewStyle().Bold(true)
	probeSelectedStyle = lipgloss.NewStyle().Reverse(true)
	probeDescStyle     = lipgloss.NewStyle().Faint(true)
	probeStatusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

type probeModel struct {
	enc      *codec.Encoder
	query    string
	results  []protocol.SearchResult
	selected int
	status   string
	gone     bool
}

func (m probeModel) Init() tea.Cmd {
	return nil
}

func (m probeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case serviceGoneMsg:
		m.gone = true
		m.status = "service exited"
		return m, tea.Quit

	case responseMsg:
		resp := protocol.Response(msg)
		switch resp.Kind {
		case protocol.ResponseUpdate:
			m.results = resp.Update
			if m.selected >= len(m.results) {
				m.selected = 0
			}
		case protocol.ResponseFill:
			m.query = resp.Fill
			m.search()
		case protocol.ResponseClose:
			return m, tea.Quit
		case protocol.ResponseDesktopEntry:
			m.status = "desktop entry: " + resp.DesktopEntry.Path
		case protocol.ResponseContext:
			m.status = fmt.Sprintf("%d context options for item %d", len(resp.Context.Options), resp.Context.ID)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected+1 < len(m.results) {
				m.selected++
			}
		case "enter":
			if m.selected < len(m.results) {
				_ = m.enc.Emit(protocol.Activate(m.results[m.selected].ID))
			}
		case "tab":
			if m.selected < len(m.results) {
				_ = m.enc.Emit(protocol.Complete(m.results[m.selected].ID))
			}
		case "ctrl+k":
			if m.selected < len(m.results) {
				_ = m.enc.Emit(protocol.ContextRequest(m.results[m.selected].ID))
			}
		case "backspace":
			if len(m.query) > 0 {
				m.query = m.query[:len(m.query)-1]
				m.search()
			}
		default:
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
				m.query += string(msg.Runes)
				m.search()
			}
		}
	}

	return m, nil
}

func (m *probeModel) search() {
	m.status = ""
	_ = m.enc.Emit(protocol.Search(m.query))
}

func (m probeModel) View() string {
	view := probeQueryStyle.Render("> "+m.query) + "\n\n"

	for i, result := range m.results {
		line := result.Name
		if result.Description != "" {
			line += "  " + probeDescStyle.Render(result.Description)
		}
		if i == m.selected {
			line = probeSelectedStyle.Render(line)
		}
		view += line + "\n"
	}

	if m.status != "" {
		view += "\n" + probeStatusStyle.Render(m.status)
	}
	return view
}
