package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/session"
)

// maxRows bounds the rows kept for rendering.
const maxRows = 500

type eventMsg struct{ ev domain.InteractionEvent }

type promptMsg struct {
	prompt session.Prompt
	reply  chan<- bool
}

type noticeMsg string

type errorMsg struct {
	title string
	err   error
}

// Model is the bubbletea model of the recording surface.
type Model struct {
	info   session.SurfaceInfo
	styles Styles
	keys   keyMap
	help   help.Model

	rows   []domain.InteractionEvent
	total  int
	prompt *promptMsg
	notice string
	errMsg string

	width   int
	height  int
	stopped bool
}

// NewModel creates the surface model for a session.
func NewModel(info session.SurfaceInfo) Model {
	return Model{
		info:   info,
		styles: DefaultStyles(),
		keys:   defaultKeyMap(),
		help:   help.New(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		if m.prompt != nil {
			switch {
			case key.Matches(msg, m.keys.Yes):
				m.answer(true)
			case key.Matches(msg, m.keys.No):
				m.answer(false)
			}
			return m, nil
		}
		if key.Matches(msg, m.keys.Stop) {
			m.stopped = true
			return m, tea.Quit
		}

	case eventMsg:
		m.add(msg.ev)

	case promptMsg:
		if m.prompt != nil {
			// one question at a time; the newer one wins
			m.answer(false)
		}
		p := msg
		m.prompt = &p

	case noticeMsg:
		m.notice = string(msg)

	case errorMsg:
		m.errMsg = fmt.Sprintf("%s: %v", msg.title, msg.err)
	}
	return m, nil
}

func (m *Model) answer(yes bool) {
	m.prompt.reply <- yes
	m.prompt = nil
}

// add appends ev, replacing the last row while a text edit is in progress.
func (m *Model) add(ev domain.InteractionEvent) {
	if n := len(m.rows); n > 0 && ev.EventType.IsIncrementalText() && m.rows[n-1].EventType == ev.EventType {
		m.rows[n-1] = ev
		return
	}
	m.rows = append(m.rows, ev)
	m.total++
	if len(m.rows) > maxRows {
		m.rows = m.rows[len(m.rows)-maxRows:]
	}
}

// Stopped reports whether the user asked to stop the recording.
func (m Model) Stopped() bool { return m.stopped }

// Rows returns the rendered events, oldest first.
func (m Model) Rows() []domain.InteractionEvent {
	return append([]domain.InteractionEvent(nil), m.rows...)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	t := m.info.Target
	b.WriteString(m.styles.Title.Render("● REC " + t.Package))
	b.WriteString(m.styles.Subtle.Render(fmt.Sprintf("  %s · API %d · %s · %d events", t.Serial, t.APILevel, m.info.Mode, m.total)))
	b.WriteString("\n\n")

	rows := m.rows
	if visible := m.visibleRows(); len(rows) > visible {
		rows = rows[len(rows)-visible:]
	}
	for _, ev := range rows {
		name := m.styles.Event.Foreground(eventColor(ev.EventType)).Render(string(ev.EventType))
		b.WriteString(name)
		b.WriteString(m.styles.Detail.Render(Describe(ev)))
		b.WriteString("\n")
	}
	if len(rows) == 0 {
		b.WriteString(m.styles.Subtle.Render("Interact with the app to record actions."))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n" + m.styles.Notice.Render(m.notice) + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.errMsg) + "\n")
	}

	b.WriteString("\n")
	if m.prompt != nil {
		p := m.prompt.prompt
		body := lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Render(p.Title),
			p.Message,
			"",
			m.styles.Buttons.Render(fmt.Sprintf("[y] %s   [n] %s", p.Yes, p.No)),
		)
		b.WriteString(m.styles.Prompt.Render(body))
		b.WriteString("\n")
		b.WriteString(m.help.View(promptHelp{keys: m.keys}))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) visibleRows() int {
	if m.height <= 0 {
		return 20
	}
	return max(m.height-8, 3)
}

// Describe renders the details of ev on one line.
func Describe(ev domain.InteractionEvent) string {
	var parts []string
	if len(ev.ElementDescriptors) > 0 {
		el := ev.ElementDescriptors[0]
		name := el.ClassName
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if el.ResourceID != "" {
			name += "#" + el.ResourceID[strings.LastIndex(el.ResourceID, "/")+1:]
		}
		if name != "" {
			parts = append(parts, name)
		}
		if el.Text != "" && ev.EventType != domain.EventTextChange {
			parts = append(parts, fmt.Sprintf("%q", el.Text))
		}
	}
	switch {
	case ev.EventType == domain.EventTextChange:
		parts = append(parts, fmt.Sprintf("%q", ev.ReplacementText))
	case ev.SwipeDirection != "":
		parts = append(parts, strings.ToLower(ev.SwipeDirection))
	case len(ev.RequestedPermissions) > 0:
		parts = append(parts, strings.Join(ev.RequestedPermissions, ", "))
	case ev.DelayTime > 0:
		parts = append(parts, fmt.Sprintf("%dms", ev.DelayTime))
	}
	return strings.Join(parts, " ")
}
