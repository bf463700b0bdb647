package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"coachchat/internal/chat"
	"coachchat/internal/wire"
)

var (
	appTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	listBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	listItemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	selectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	unreadBadgeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	hintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	chatHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle   = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle  = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle       = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBoxStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	mineStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	theirsStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))
	markerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	attachmentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	typingStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	noticeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
)

func (m *Model) View() string {
	switch m.mode {
	case modeFilePick:
		return m.renderFilePickView()
	case modeChat:
		return m.renderChatView()
	default:
		return m.renderRosterView()
	}
}

func (m *Model) renderRosterView() string {
	title := appTitleStyle.Render("CoachChat")
	subtitle := subtitleStyle.Render(fmt.Sprintf("Channel: %s", m.session.Channel))

	summaries := m.roster.Summaries()
	var rows []string
	switch {
	case m.loadingList:
		rows = append(rows, listItemStyle.Render("Loading conversations…"))
	case len(summaries) == 0:
		rows = append(rows, listItemStyle.Render("No conversations yet."))
	default:
		for i, summary := range summaries {
			line := summaryTitle(summary, m.role)
			if unread := m.roster.Unread(summary.ChatID); unread > 0 {
				line += " " + unreadBadgeStyle.Render(fmt.Sprintf("(%d)", unread))
			}
			if i == m.cursor {
				rows = append(rows, selectedStyle.Render("› "+line))
			} else {
				rows = append(rows, listItemStyle.Render("  "+line))
			}
		}
	}

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		listBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
		hintStyle.Render("↑/↓ select · enter open · r refresh · q quit"),
		m.renderStatusLine(),
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderChatView() string {
	header := chatHeaderStyle.Render(m.chatTitle())

	var lines []string
	messages := m.session.Messages().All()
	if len(messages) == 0 {
		lines = append(lines, listItemStyle.Render("No messages yet. Say hello."))
	}
	for _, message := range messages {
		lines = append(lines, m.renderMessage(message))
	}
	if m.uploading {
		lines = append(lines, attachmentStyle.Render("Uploading…"))
	}
	if time.Now().Before(m.typingUntil) {
		lines = append(lines, typingStyle.Render("typing…"))
	}

	sections := []string{
		header,
		messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		inputBoxStyle.Render(m.textInput.View()),
		m.renderStatusLine(),
	}
	if len(m.pendingFiles) > 0 {
		var names []string
		for _, file := range m.pendingFiles {
			names = append(names, fmt.Sprintf("%s (%s)", file.Name, formatFileSize(file.SizeBytes)))
		}
		sections = append(sections, attachmentStyle.Render("Attached: "+strings.Join(names, ", ")))
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	sections = append(sections, hintStyle.Render("esc conversations · /attach file · /channel switch · ctrl+c quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderMessage(message chat.Message) string {
	who := theirsStyle.Render(string(message.Sender))
	if message.Sender == m.role.Sender() {
		who = mineStyle.Render("you")
	}
	stamp := timestampStyle.Render(message.At.Format("15:04"))

	line := fmt.Sprintf("%s %s %s", stamp, who, message.Text)
	for _, attachment := range message.Attachments {
		label := attachment.Name
		if attachment.SizeBytes > 0 {
			label += " (" + formatFileSize(attachment.SizeBytes) + ")"
		}
		line += "\n    " + attachmentStyle.Render("📎 "+label)
	}
	if marker := deliveryMarker(message); marker != "" {
		line += " " + marker
	}
	return line
}

// deliveryMarker renders the lifecycle of an outgoing message. Incoming
// messages carry no marker.
func deliveryMarker(message chat.Message) string {
	switch {
	case message.Failed:
		return failedStyle.Render("✗ failed")
	case message.Read:
		return markerStyle.Render("✓✓")
	case message.Delivered:
		return markerStyle.Render("✓")
	case strings.HasPrefix(message.ID, "local-"):
		return markerStyle.Render("…")
	default:
		return ""
	}
}

func (m *Model) renderFilePickView() string {
	header := chatHeaderStyle.Render("Attach a file · " + m.browsePath)

	var rows []string
	for i, item := range m.browseItems {
		label := item.Name
		if item.IsDir {
			label += "/"
		} else if item.Size > 0 {
			label += "  " + timestampStyle.Render(formatFileSize(item.Size))
		}
		if i == m.browseIndex {
			rows = append(rows, selectedStyle.Render("› "+label))
		} else {
			rows = append(rows, listItemStyle.Render("  "+label))
		}
	}
	if len(rows) == 0 {
		rows = append(rows, listItemStyle.Render("Empty directory."))
	}

	sections := []string{
		header,
		listBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
		hintStyle.Render("↑/↓ select · enter pick · esc cancel"),
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderStatusLine() string {
	switch {
	case m.connected && m.isJoining:
		return connectingStyle.Render("● joining…")
	case m.connected:
		return connectedStyle.Render("● connected")
	case m.connectionError != nil:
		return errorStyle.Render("● offline: " + m.connectionError.Error())
	default:
		return connectingStyle.Render("● connecting…")
	}
}

func (m *Model) chatTitle() string {
	for _, participant := range m.session.Participants() {
		if participant.ID != m.session.MyParticipantID() {
			return participantLabel(participant)
		}
	}
	if chatID := m.session.ChatID(); chatID != "" {
		return "Conversation " + chatID
	}
	return "New conversation"
}

// summaryTitle labels a roster row with the other party. Team members see
// the student code; students see the team side.
func summaryTitle(summary wire.ChatSummary, role chat.Role) string {
	want := wire.TypeCliente
	if role == chat.RoleStudent {
		want = wire.TypeEquipo
	}
	for _, participant := range summary.Participants {
		if participant.Type == want {
			return participantLabel(participant)
		}
	}
	return "Conversation " + summary.ChatID
}

func participantLabel(participant wire.Participant) string {
	if participant.ExternalID != "" {
		return participant.ExternalID
	}
	if participant.Type == wire.TypeEquipo {
		return "Team"
	}
	return "Student"
}
