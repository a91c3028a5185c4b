package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/stream"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/types"
)

// UI configuration constants
const (
	defaultInputWidth      = 100
	defaultViewportWidth   = 100
	defaultViewportHeight  = 30
	defaultWindowWidth     = 100
	defaultWindowHeight    = 40
	inputCharLimit         = 4000
	inputHeightReserved    = 2
	statusHeightReserved   = 3
	minContentHeight       = 10
	sessionIDDisplayLength = 8
)

// Style definitions
var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// turnState represents the state of the current turn
type turnState int

const (
	turnIdle turnState = iota
	turnStreaming
)

// ChatProgram encapsulates the chat TUI program
type ChatProgram struct {
	model chatModel
}

// NewChatProgram creates a chat program bound to one session. history
// preloads prior messages into the view.
func NewChatProgram(transport *stream.Transport, sessionID string, history []types.ChatMessage) *ChatProgram {
	return &ChatProgram{model: initialModel(transport, sessionID, history)}
}

// Run starts the chat TUI program
func (p *ChatProgram) Run() error {
	program := tea.NewProgram(p.model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// turnEvent is one callback crossing from the transport goroutine into
// the Bubble Tea loop.
type turnEvent struct {
	thinking *stream.ThinkingStatus
	fragment *string
	warning  string
	result   *stream.Result
	err      error
}

// Message type definitions
type (
	turnStartedMsg struct {
		events <-chan turnEvent
		cancel context.CancelFunc
	}
	turnEventMsg    struct{ ev turnEvent }
	turnFinishedMsg struct{}
)

// chatModel is the Bubble Tea model containing all chat interface state
type chatModel struct {
	// Dependencies
	transport *stream.Transport
	sessionID string

	// UI components
	input       textinput.Model
	contentView viewport.Model

	// Turn state
	state       turnState
	conv        conversation
	events      <-chan turnEvent
	cancelTurn  context.CancelFunc
	lastWarning string

	// Window dimensions
	width  int
	height int
}

// initialModel creates the initial chat model
func initialModel(transport *stream.Transport, sessionID string, history []types.ChatMessage) chatModel {
	input := textinput.New()
	input.Placeholder = ""
	input.Focus()
	input.CharLimit = inputCharLimit
	input.Width = defaultInputWidth
	input.Prompt = ""
	input.TextStyle = lipgloss.NewStyle()
	input.PromptStyle = lipgloss.NewStyle()

	contentViewport := viewport.New(defaultViewportWidth, defaultViewportHeight)
	contentViewport.SetContent("")

	var conv conversation
	seed := make([]message, 0, len(history))
	for _, h := range history {
		status := statusAI
		if h.Role == "user" {
			status = statusLocal
		}
		seed = append(seed, message{Role: h.Role, Status: status, Content: h.Content})
	}
	conv.seed(seed)

	m := chatModel{
		transport:   transport,
		sessionID:   sessionID,
		input:       input,
		contentView: contentViewport,
		state:       turnIdle,
		conv:        conv,
		width:       defaultWindowWidth,
		height:      defaultWindowHeight,
	}
	m.refreshContent()
	return m
}

// Init initializes the model (Bubble Tea interface)
func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update processes messages and updates the model (Bubble Tea interface)
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		cmds = append(cmds, m.handleKeyPress(msg)...)

	case tea.WindowSizeMsg:
		m.handleWindowResize(msg)

	case turnStartedMsg:
		m.state = turnStreaming
		m.events = msg.events
		m.cancelTurn = msg.cancel
		cmds = append(cmds, waitForTurnEvent(m.events))

	case turnEventMsg:
		m.applyEvent(msg.ev)
		cmds = append(cmds, waitForTurnEvent(m.events))

	case turnFinishedMsg:
		m.state = turnIdle
		m.events = nil
		m.cancelTurn = nil
		m.refreshContent()
	}

	// The input only reacts while no turn is streaming
	if m.state != turnStreaming {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m *chatModel) handleKeyPress(msg tea.KeyMsg) []tea.Cmd {
	var cmds []tea.Cmd

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.cancelTurn != nil {
			m.cancelTurn()
		}
		cmds = append(cmds, tea.Quit)

	case tea.KeyEsc:
		if m.state == turnStreaming && m.cancelTurn != nil {
			// Cancel the generation, stay in the chat
			m.cancelTurn()
		} else {
			cmds = append(cmds, tea.Quit)
		}

	case tea.KeyEnter:
		if m.state != turnStreaming {
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.Reset()
				m.lastWarning = ""
				m.conv.beginTurn(text)
				m.state = turnStreaming
				m.refreshContent()
				cmds = append(cmds, m.startTurn(text))
			}
		}

	case tea.KeyUp:
		m.contentView.LineUp(1)

	case tea.KeyDown:
		m.contentView.LineDown(1)

	case tea.KeyPgUp:
		m.contentView.ViewUp()

	case tea.KeyPgDown:
		m.contentView.ViewDown()
	}

	return cmds
}

// handleWindowResize handles window size changes
func (m *chatModel) handleWindowResize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	contentHeight := msg.Height - inputHeightReserved - statusHeightReserved
	if contentHeight < minContentHeight {
		contentHeight = minContentHeight
	}

	m.contentView.Width = msg.Width
	m.contentView.Height = contentHeight
	m.input.Width = msg.Width - 3

	m.refreshContent()
}

// startTurn launches the streaming turn in its own goroutine and
// bridges the callbacks into the event loop.
func (m *chatModel) startTurn(text string) tea.Cmd {
	transport := m.transport
	sessionID := m.sessionID

	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		events := make(chan turnEvent, 16)

		cb := stream.Callbacks{
			OnThinking: func(s stream.ThinkingStatus) {
				events <- turnEvent{thinking: &s}
			},
			OnUpdate: func(u stream.Update) {
				events <- turnEvent{fragment: &u.Content}
			},
			OnWarning: func(w string) {
				events <- turnEvent{warning: w}
			},
			OnSuccess: func(r stream.Result) {
				events <- turnEvent{result: &r}
			},
			OnError: func(err error) {
				events <- turnEvent{err: err}
			},
		}

		go func() {
			defer close(events)
			defer cancel()
			transport.StreamChat(ctx, sessionID, &stream.TurnRequest{Message: text}, cb)
		}()

		return turnStartedMsg{events: events, cancel: cancel}
	}
}

// waitForTurnEvent waits for the next event of the in-flight turn.
func waitForTurnEvent(events <-chan turnEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return turnFinishedMsg{}
		}
		return turnEventMsg{ev: ev}
	}
}

// applyEvent folds one turn event into the conversation.
func (m *chatModel) applyEvent(ev turnEvent) {
	switch {
	case ev.thinking != nil:
		m.conv.applyThinking(*ev.thinking)

	case ev.fragment != nil:
		m.conv.applyUpdate(*ev.fragment)

	case ev.warning != "":
		m.lastWarning = ev.warning

	case ev.result != nil:
		m.conv.applySuccess(*ev.result)
		if m.conv.mismatch {
			slog.Warn("accumulated fragments disagree with final payload, using final payload",
				"session_id", m.sessionID)
		}

	case ev.err != nil:
		m.conv.applyError(ev.err)
	}

	m.refreshContent()
}

// refreshContent re-renders the conversation into the viewport.
func (m *chatModel) refreshContent() {
	var b strings.Builder

	for _, msg := range m.conv.messages {
		b.WriteString("\n")
		switch msg.Role {
		case "user":
			b.WriteString(boldStyle.Render("You"))
		default:
			b.WriteString(accentStyle.Render("Assistant"))
		}
		b.WriteString("\n")

		switch {
		case msg.IsThinking && msg.Content == "":
			thinking := msg.Thinking
			if thinking == "" {
				thinking = "思考中..."
			}
			b.WriteString(dimStyle.Render(thinking))
		case msg.Status == statusError:
			b.WriteString(errorStyle.Render(msg.Content))
		default:
			b.WriteString(msg.Content)
		}
		b.WriteString("\n")
	}

	if m.lastWarning != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("⚠ " + m.lastWarning))
		b.WriteString("\n")
	}

	display := b.String()
	if m.width > 0 {
		display = m.wrapText(display, m.width)
	}

	m.contentView.SetContent(display)
	m.contentView.GotoBottom()
}

// wrapText applies auto-wrapping to text, correctly handling wide
// character widths.
func (m *chatModel) wrapText(text string, maxWidth int) string {
	if maxWidth <= 10 {
		return text
	}

	lines := strings.Split(text, "\n")
	var result strings.Builder

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		result.WriteString(m.wrapLine(line, maxWidth))
	}

	return result.String()
}

// wrapLine wraps a single line of text, correctly handling wide
// character widths.
func (m *chatModel) wrapLine(line string, maxWidth int) string {
	if runewidth.StringWidth(line) <= maxWidth {
		return line
	}

	var result strings.Builder
	var currentLine strings.Builder
	currentWidth := 0

	for _, r := range line {
		runeW := runewidth.RuneWidth(r)

		if currentWidth+runeW > maxWidth && currentWidth > 0 {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
			currentWidth = 0
		}

		currentLine.WriteRune(r)
		currentWidth += runeW
	}

	if currentLine.Len() > 0 {
		result.WriteString(currentLine.String())
	}

	return result.String()
}

// View renders the UI (Bubble Tea interface)
func (m chatModel) View() string {
	sessionLabel := m.sessionID
	if len(sessionLabel) > sessionIDDisplayLength {
		sessionLabel = sessionLabel[:sessionIDDisplayLength]
	}
	status := dimStyle.Render(fmt.Sprintf("会话 %s", sessionLabel))
	if m.state == turnStreaming {
		status += dimStyle.Render(" • 生成中... (Esc 取消)")
	}

	content := m.contentView.View()

	var inputView string
	if m.state == turnStreaming {
		inputView = dimStyle.Render("> ") + dimStyle.Render("等待回复完成...")
	} else {
		inputView = promptStyle.Render("> ") + m.input.View()
	}

	help := ""
	if m.state != turnStreaming {
		help = dimStyle.Render("Enter 发送 • ↑↓ 滚动 • Esc 退出")
	}

	parts := []string{status, "", content, "", inputView}
	if help != "" {
		parts = append(parts, help)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
