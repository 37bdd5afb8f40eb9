package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zombor/bill-explainer/internal/session"
)

// API is the server surface the terminal client drives
type API interface {
	session.Analyzer
	session.Fetcher
	session.Asker
}

type phase int

const (
	phaseUpload phase = iota
	phaseSubmitting
	phaseLoading
	phaseResult
	phaseRedirect
)

type (
	submittedMsg struct {
		id  string
		err error
	}
	loadedMsg struct {
		err error
	}
	answeredMsg struct {
		err error
	}
	redirectMsg struct{}
)

// Model is the bubbletea model for the bill chat client
type Model struct {
	api        API
	encode     func(path string) (string, error)
	submission *session.Submission
	viewer     *session.Viewer
	chat       *session.Chat

	phase    phase
	input    textinput.Model
	status   string
	err      error
	width    int
	height   int
	waiting  bool
	quitting bool
}

// NewModel creates a model at the upload prompt
func NewModel(api API) Model {
	return Model{
		api:        api,
		encode:     session.EncodeImageFile,
		submission: session.NewSubmission(api),
		input:      newUploadInput(),
		width:      100,
		height:     30,
	}
}

// WithAnalysis starts the model on an existing analysis instead of the upload prompt
func (m Model) WithAnalysis(id string) Model {
	m.viewer = session.NewViewer(m.api, id)
	m.phase = phaseLoading
	m.status = "Loading analysis..."
	return m
}

func newUploadInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "path/to/bill.jpg"
	ti.CharLimit = 500
	ti.Focus()
	return ti
}

func newChatInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about your bill..."
	ti.CharLimit = 1000
	ti.Focus()
	return ti
}

func (m Model) Init() tea.Cmd {
	if m.phase == phaseLoading {
		return m.loadCmd()
	}
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, msg.Width-8)
		return m, nil

	case submittedMsg:
		if msg.err != nil {
			m.err = m.submission.Err()
			m.status = ""
			m.submission.Reset()
			m.phase = phaseUpload
			m.input.Focus()
			return m, nil
		}
		m.viewer = session.NewViewer(m.api, msg.id)
		m.phase = phaseLoading
		m.status = "Loading analysis..."
		return m, m.loadCmd()

	case loadedMsg:
		if msg.err != nil {
			m.phase = phaseRedirect
			m.err = m.viewer.Err()
			m.status = "Redirecting to home..."
			return m, m.redirectCmd()
		}
		chat, err := m.viewer.Chat()
		if err != nil {
			m.err = err
			return m, nil
		}
		m.chat = chat
		m.phase = phaseResult
		m.status = ""
		m.err = nil
		m.input = newChatInput()
		return m, textinput.Blink

	case redirectMsg:
		m.viewer = nil
		m.chat = nil
		m.waiting = false
		m.phase = phaseUpload
		m.status = ""
		m.err = nil
		m.input = newUploadInput()
		return m, textinput.Blink

	case answeredMsg:
		if msg.err != nil {
			slog.Error("Chat error", "id", m.chat.ID(), "error", msg.err)
		}
		m.waiting = false
		m.input.Focus()
		return m, textinput.Blink

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		if m.phase == phaseResult && !m.busy() {
			return m.Update(redirectMsg{})
		}
		if m.phase == phaseUpload {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case "enter":
		switch m.phase {
		case phaseUpload:
			return m.submit()
		case phaseResult:
			return m.ask()
		}
		return m, nil
	}

	// input is disabled while work is in flight
	if m.phase != phaseUpload && m.phase != phaseResult {
		return m, nil
	}
	if m.phase == phaseResult && m.busy() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	path := strings.TrimSpace(m.input.Value())
	if path == "" {
		return m, nil
	}
	imageData, err := m.encode(path)
	if err != nil {
		m.err = err
		return m, nil
	}

	m.err = nil
	m.phase = phaseSubmitting
	m.status = "Analyzing your bill..."
	m.input.Blur()

	submission := m.submission
	return m, func() tea.Msg {
		id, err := submission.Submit(context.Background(), imageData)
		return submittedMsg{id: id, err: err}
	}
}

func (m Model) ask() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(m.input.Value())
	if question == "" || m.busy() {
		return m, nil
	}
	m.input.SetValue("")
	m.input.Blur()

	m.waiting = true

	chat := m.chat
	return m, func() tea.Msg {
		_, err := chat.Send(context.Background(), question)
		return answeredMsg{err: err}
	}
}

// busy reports whether a chat question is in flight
func (m Model) busy() bool {
	return m.waiting || (m.chat != nil && m.chat.Pending())
}

func (m Model) loadCmd() tea.Cmd {
	viewer := m.viewer
	return func() tea.Msg {
		_, err := viewer.Load(context.Background())
		return loadedMsg{err: err}
	}
}

func (m Model) redirectCmd() tea.Cmd {
	viewer := m.viewer
	return func() tea.Msg {
		_ = viewer.WaitRedirect(context.Background())
		return redirectMsg{}
	}
}

// Quitting reports whether the user asked to exit
func (m Model) Quitting() bool {
	return m.quitting
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Bill Explainer"))
	b.WriteString("\n\n")

	switch m.phase {
	case phaseUpload:
		b.WriteString("Enter the path to a photo or PDF of your medical bill:\n\n")
		b.WriteString(inputStyle.Render(m.input.View()))
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("Enter: analyze  Esc: quit"))

	case phaseSubmitting, phaseLoading:
		b.WriteString(dimStyle.Render(m.status))

	case phaseRedirect:
		b.WriteString(errorStyle.Render(errorText(m.err)))
		b.WriteString("\n" + dimStyle.Render(m.status))

	case phaseResult:
		b.WriteString(m.viewResult())
	}

	return b.String()
}

func (m Model) viewResult() string {
	var b strings.Builder

	width := max(20, m.width-4)
	if analysis := m.viewer.Analysis(); analysis != nil {
		b.WriteString(analysisStyle.Width(width).Render(analysis.Analysis))
		b.WriteString("\n\n")
	}

	for _, turn := range m.chat.Turns() {
		b.WriteString(renderTurn(turn, width))
		b.WriteString("\n\n")
	}

	if m.busy() {
		b.WriteString(dimStyle.Render("Thinking..."))
	} else {
		b.WriteString(inputStyle.Render(m.input.View()))
	}
	b.WriteString("\n\n" + helpStyle.Render("Enter: send  Esc: new bill  Ctrl+C: quit"))
	return b.String()
}

func renderTurn(turn session.ChatTurn, width int) string {
	label := assistantRoleStyle.Render(" Assistant ")
	if turn.Role == session.RoleUser {
		label = userRoleStyle.Render(" You ")
	}
	body := lipgloss.NewStyle().Width(width).Render(turn.Content)
	return label + "\n" + body
}

func errorText(err error) string {
	if err == nil {
		return "Failed to load analysis"
	}
	return fmt.Sprintf("Analysis not found: %v", err)
}
