package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nutrition-rag/internal/rag"
)

// Assistant is the TUI-facing subset of rag.Session.
type Assistant interface {
	GetOrBuild(ctx context.Context) (*rag.Pipeline, error)
	Handle(ctx context.Context, question string) rag.Reply
	Status() string
}

type exchange struct {
	question string
	reply    rag.Reply
}

type builtMsg struct{ err error }

type replyMsg struct {
	question string
	reply    rag.Reply
}

// Model is the Bubble Tea model: one question input, the answers so far and
// a status line.
type Model struct {
	ctx       context.Context
	assistant Assistant
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	history   []exchange
	status    string
	busy      bool
	ready     bool
}

func New(ctx context.Context, assistant Assistant) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Örn: muz kalorisi nedir?"
	ti.Focus()
	ti.CharLimit = 500

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{
		ctx:       ctx,
		assistant: assistant,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		status:    "Veri seti yükleniyor...",
		busy:      true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.build())
}

func (m Model) build() tea.Cmd {
	return func() tea.Msg {
		_, err := m.assistant.GetOrBuild(m.ctx)
		return builtMsg{err: err}
	}
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{question: q, reply: m.assistant.Handle(m.ctx, q)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 + bh
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.viewport.SetContent(m.renderHistory())
		return m, nil
	case builtMsg:
		m.busy = false
		m.status = m.assistant.Status()
		return m, nil
	case replyMsg:
		m.busy = false
		m.history = append(m.history, exchange{question: msg.question, reply: msg.reply})
		m.status = m.assistant.Status()
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Cevap, Beslenme Veri Setinden Çekiliyor..."
			m.input.Reset()
			return m, m.ask(q)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Yükleniyor..."
	}
	header := titleStyle.Render("🍔 Gelişmiş Beslenme RAG Asistanı")
	sub := subtleStyle.Render("Verilen CSV verisine dayanarak besin değerleri, kategoriler ve karşılaştırmalar hakkında sorular sorun.")
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		sub + "\n" +
		answerBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return subtleStyle.Render("Henüz soru sorulmadı.")
	}
	var b strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("Soru: " + ex.question))
		b.WriteString("\n")
		if ex.reply.OK() {
			b.WriteString(answerStyle.Render("🤖 Asistan Cevabı: "))
			b.WriteString(ex.reply.Answer.Text)
		} else {
			b.WriteString(errorStyle.Render(ex.reply.Message))
		}
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(b.String())
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Run starts the terminal UI and blocks until the user quits.
func Run(ctx context.Context, assistant Assistant) error {
	_, err := tea.NewProgram(New(ctx, assistant), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
