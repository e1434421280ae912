package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bfalabs/bfa-assistant/internal/chatclient"
	"github.com/bfalabs/bfa-assistant/internal/measurement"
)

const tasksCommand = "/tasks"

var (
	thinkingStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
	marginStyle   = lipgloss.NewStyle().Margin(1, 2)
)

// backend is the part of chatclient.Client the terminal model talks to.
type backend interface {
	Ask(ctx context.Context, message string, onUpdate func(*chatclient.Reply)) (*chatclient.Reply, error)
	ListTasks(ctx context.Context, personID string) ([]measurement.Task, error)
}

type entryRole int

const (
	roleUser entryRole = iota
	roleAssistant
	roleSystem
)

type transcriptEntry struct {
	role     entryRole
	text     string
	thinking string
	failed   bool
}

// replyUpdateMsg is a copy of the streaming reply taken inside the
// client callback, so the model never reads the live Reply.
type replyUpdateMsg struct {
	text     string
	thinking string
	done     bool
	failed   bool
}

type tasksMsg struct {
	tasks []measurement.Task
	err   error
}

type chatModel struct {
	ctx      context.Context
	client   backend
	personID string

	input   textinput.Model
	spinner spinner.Model

	entries   []transcriptEntry
	streaming bool
	updates   chan replyUpdateMsg
	width     int
}

func newChatModel(ctx context.Context, client backend, personID string) chatModel {
	in := textinput.New()
	in.Placeholder = "输入问题，/tasks 查看任务，Esc 退出"
	in.Focus()
	in.CharLimit = 2000

	s := spinner.New()
	s.Spinner = spinner.Dot

	return chatModel{
		ctx:      ctx,
		client:   client,
		personID: personID,
		input:    in,
		spinner:  s,
		updates:  make(chan replyUpdateMsg, 64),
		width:    80,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-6, 10)
		return m, nil
	case replyUpdateMsg:
		if n := len(m.entries); n > 0 && m.entries[n-1].role == roleAssistant {
			last := &m.entries[n-1]
			last.text = msg.text
			last.thinking = msg.thinking
			last.failed = msg.failed
		}
		if msg.done {
			m.streaming = false
			return m, nil
		}
		return m, m.waitForUpdate()
	case tasksMsg:
		if msg.err != nil {
			m.entries = append(m.entries, transcriptEntry{role: roleSystem, text: msg.err.Error(), failed: true})
			return m, nil
		}
		m.entries = append(m.entries, transcriptEntry{role: roleSystem, text: renderTaskTable(msg.tasks)})
		return m, nil
	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return m, nil
	}
	m.input.Reset()

	if text == tasksCommand {
		return m, m.fetchTasks()
	}

	m.entries = append(m.entries,
		transcriptEntry{role: roleUser, text: text},
		transcriptEntry{role: roleAssistant},
	)
	m.streaming = true
	return m, tea.Batch(m.spinner.Tick, m.ask(text), m.waitForUpdate())
}

func (m chatModel) ask(text string) tea.Cmd {
	ctx, client, updates := m.ctx, m.client, m.updates
	return func() tea.Msg {
		_, _ = client.Ask(ctx, text, func(r *chatclient.Reply) {
			update := replyUpdateMsg{
				text:     r.Text(),
				thinking: r.DisplayThinking(),
				done:     r.Done() || r.Failed(),
				failed:   r.Failed(),
			}
			select {
			case updates <- update:
			case <-ctx.Done():
			}
		})
		return nil
	}
}

func (m chatModel) waitForUpdate() tea.Cmd {
	ctx, updates := m.ctx, m.updates
	return func() tea.Msg {
		select {
		case u := <-updates:
			return u
		case <-ctx.Done():
			return nil
		}
	}
}

func (m chatModel) fetchTasks() tea.Cmd {
	ctx, client, personID := m.ctx, m.client, m.personID
	return func() tea.Msg {
		tasks, err := client.ListTasks(ctx, personID)
		return tasksMsg{tasks: tasks, err: err}
	}
}

func (m chatModel) View() string {
	var b strings.Builder
	for i, e := range m.entries {
		switch e.role {
		case roleUser:
			b.WriteString(userStyle.Render("你: "))
			b.WriteString(e.text)
		case roleAssistant:
			last := i == len(m.entries)-1
			if e.thinking != "" {
				b.WriteString(thinkingStyle.Width(m.width - 4).Render(e.thinking))
				b.WriteString("\n")
			}
			switch {
			case e.failed:
				b.WriteString(errorStyle.Render(e.text))
			case e.text == "" && last && m.streaming:
				b.WriteString(m.spinner.View())
			default:
				b.WriteString(e.text)
			}
		case roleSystem:
			if e.failed {
				b.WriteString(errorStyle.Render(e.text))
			} else {
				b.WriteString(e.text)
			}
		}
		b.WriteString("\n\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter 发送 · /tasks 任务列表 · esc 退出"))
	return marginStyle.Render(b.String())
}
