package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
	"docqa/internal/rag"
)

// AnswerPort is the TUI-facing subset of the RAG orchestrator.
type AnswerPort interface {
	Answer(ctx context.Context, query string) (domain.Answer, error)
	Feedback(ctx context.Context, queryID string, rating int) error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  AnswerPort
	registry *rag.Registry
	input    textinput.Model
	viewport viewport.Model
	answer   *domain.Answer
	status   string
	cursor   int
	ready    bool
}

// New creates a new chat model instance.
func New(service AnswerPort, registry *rag.Registry) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, /docs to list documents, /rate 1-5 to rate"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		registry: registry,
		input:    ti,
		viewport: vp,
		status:   "Ready. Type a question and press Enter.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + qh + 1 // header + status + input frame + spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line != "" {
				m = m.submit(line)
				m.input.SetValue("")
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "down":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Sources)) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs a question or a slash command.
func (m Model) submit(line string) Model {
	ctx := context.Background()
	switch {
	case line == "/docs":
		out, err := m.registry.Dispatch(ctx, rag.CapabilityDocumentInfo, "")
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.answer = &domain.Answer{Text: out}
		m.cursor = 0
		m.status = "Document collection"
	case strings.HasPrefix(line, "/rate "):
		if m.answer == nil || m.answer.QueryID == "" {
			m.status = "Nothing to rate yet."
			return m
		}
		rating, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/rate ")))
		if err != nil {
			m.status = "Usage: /rate 1-5"
			return m
		}
		if err := m.service.Feedback(ctx, m.answer.QueryID, rating); err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.status = fmt.Sprintf("Thanks, recorded rating %d.", rating)
	default:
		ans, err := m.service.Answer(ctx, line)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.answer = &ans
		m.cursor = 0
		m.status = fmt.Sprintf("Answered with %d sources (confidence %.2f)", len(ans.Sources), ans.Confidence)
	}
	return m
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.answer.Text)
	if len(m.answer.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(sourceHeaderStyle.Render(fmt.Sprintf("Sources (%d, up/down to cycle)", len(m.answer.Sources))))
		s := m.answer.Sources[m.cursor]
		b.WriteString(fmt.Sprintf("\n%d/%d  %s  similarity=%.3f\n%s",
			m.cursor+1, len(m.answer.Sources), s.Filename, s.Similarity, s.Excerpt))
	}
	return b.String()
}

var (
	answerBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sourceHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
