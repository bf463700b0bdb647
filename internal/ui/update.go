package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"coachchat/internal/attach"
	"coachchat/internal/chat"
	"coachchat/internal/metrics"
	"coachchat/internal/transport"
	"coachchat/internal/upload"
	"coachchat/internal/wire"
)

func (m *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(typed)

	case connectedMsg:
		m.connected = true
		m.connectionError = nil
		m.loadingList = true
		return m, tea.Batch(m.waitEventCmd(), m.listCmd())

	case connectFailedMsg:
		m.connected = false
		m.connectionError = typed.err
		return m, m.scheduleReconnect()

	case disconnectedMsg:
		m.connected = false
		metrics.Reconnects.Inc()
		return m, m.scheduleReconnect()

	case reconnectMsg:
		if m.connected {
			return m, nil
		}
		// The old adapter's read pump is finished; a reconnect needs a
		// fresh one.
		m.adapter = transport.NewAdapter(m.cfg.ServerURL)
		return m, m.connectCmd()

	case socketEventMsg:
		cmd := m.handleSocketEvent(transport.Event(typed))
		return m, tea.Batch(m.waitEventCmd(), cmd)

	case listLoadedMsg:
		m.loadingList = false
		if typed.err != nil {
			m.notice = fmt.Sprintf("Could not load conversations: %v", typed.err)
			return m, nil
		}
		m.roster.Publish(typed.summaries)
		if targets := m.roster.EnrichTargets(); len(targets) > 0 {
			return m, m.enrichCmd(targets)
		}
		return m, nil

	case enrichedMsg:
		if typed.resp != nil {
			m.roster.ApplyEnrichment(typed.chatID, typed.resp.Participants)
		}
		return m, nil

	case joinedMsg:
		m.isJoining = false
		if typed.err != nil {
			// ErrJoinInFlight from an overlapping poll is expected noise.
			if typed.err != transport.ErrJoinInFlight {
				m.notice = fmt.Sprintf("Join failed: %v", typed.err)
			}
			return m, nil
		}
		m.session.HandleJoin(typed.resp, typed.ctx, time.Now())
		if typed.ctx == chat.CtxJoin {
			m.roster.Open(m.session.ChatID())
			m.adapter.MarkRead(m.session.ChatID(), m.session.MyParticipantID())
			m.mode = modeChat
			if m.pendingText != "" || len(m.pendingFiles) > 0 {
				text := m.pendingText
				m.pendingText = ""
				return m, m.dispatchSend(text)
			}
		}
		return m, nil

	case createdMsg:
		if typed.err != nil {
			m.notice = fmt.Sprintf("Could not create conversation: %v", typed.err)
			return m, nil
		}
		chatID := m.session.HandleCreate(typed.resp)
		if chatID == "" {
			return m, nil
		}
		m.isJoining = true
		commands := []tea.Cmd{m.joinCmd(chatID, chat.CtxJoin), m.joinTimeoutCmd()}
		// A send that triggered the creation is still pending; it goes
		// out once the join lands.
		return m, tea.Batch(commands...)

	case sendAckMsg:
		if typed.err != nil {
			m.session.HandleSendAck(typed.clientID, nil)
			return m, nil
		}
		m.session.HandleSendAck(typed.clientID, typed.ack)
		return m, nil

	case uploadDoneMsg:
		m.uploading = false
		var failures []string
		for _, result := range typed.results {
			if result.Err != nil {
				failures = append(failures, result.File.Name)
			}
		}
		if len(failures) > 0 {
			m.notice = "Upload failed: " + strings.Join(failures, ", ")
		}
		return m, nil

	case pollTickMsg:
		commands := []tea.Cmd{m.pollTickCmd()}
		if m.connected && m.session.ShouldPoll(time.Time(typed)) {
			commands = append(commands, m.joinCmd(m.session.ChatID(), chat.CtxPoll))
		}
		return m, tea.Batch(commands...)

	case sweepTickMsg:
		m.session.SweepOutbox(time.Time(typed))
		return m, m.sweepTickCmd()

	case joinTimeoutMsg:
		// Soft timeout: clear the spinner, the request is not aborted.
		m.isJoining = false
		return m, nil
	}
	return m, nil
}

func (m *Model) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC {
		m.adapter.Close()
		return m, tea.Quit
	}

	switch m.mode {
	case modeRoster:
		return m.updateRosterKey(key)
	case modeFilePick:
		return m.updateFilePickKey(key)
	default:
		return m.updateChatKey(key)
	}
}

func (m *Model) updateRosterKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	summaries := m.roster.Summaries()
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(summaries)-1 {
			m.cursor++
		}
	case "r":
		m.loadingList = true
		return m, m.listCmd()
	case "q":
		m.adapter.Close()
		return m, tea.Quit
	case "enter":
		if m.cursor < len(summaries) {
			return m, m.openConversation(summaries[m.cursor])
		}
	}
	return m, nil
}

// openConversation resolves the selected summary through the session's
// join-or-create path.
func (m *Model) openConversation(summary wire.ChatSummary) tea.Cmd {
	m.session.SetDesired(summary.Participants)
	chatID, create := m.session.Resolve(m.roster.Summaries())
	if chatID != "" {
		m.isJoining = true
		return tea.Batch(m.joinCmd(chatID, chat.CtxJoin), m.joinTimeoutCmd())
	}
	if create {
		return m.createCmd(m.session.Desired())
	}
	// Student role with no existing chat: the conversation is created at
	// the first send, never from navigation.
	m.mode = modeChat
	return nil
}

func (m *Model) updateChatKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		m.mode = modeRoster
		m.roster.Open("")
		return m, nil
	case tea.KeyEnter:
		return m.submitInput()
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(key)
	if m.connected && m.session.ChatID() != "" && key.Type == tea.KeyRunes {
		m.adapter.SendTyping(m.session.ChatID(), m.session.MyParticipantID(), m.session.SessionTag)
	}
	return m, cmd
}

func (m *Model) submitInput() (tea.Model, tea.Cmd) {
	trimmed := strings.TrimSpace(m.textInput.Value())
	if strings.HasPrefix(trimmed, "/") {
		return m.handleCommand(trimmed)
	}
	if trimmed == "" && len(m.pendingFiles) == 0 {
		return m, nil
	}
	if !m.connected {
		m.notice = "Not connected; message not sent."
		return m, nil
	}

	if m.session.NeedsCreateOnSend() {
		// First message in a fresh student conversation: create now, the
		// queued text goes out after the join completes.
		m.pendingText = trimmed
		m.textInput.SetValue("")
		return m, m.createCmd(m.session.Desired())
	}
	if m.session.ChatID() == "" {
		m.notice = "No conversation selected."
		return m, nil
	}

	m.textInput.SetValue("")
	return m, m.dispatchSend(trimmed)
}

// dispatchSend queues the optimistic message and emits it, along with any
// pending attachments.
func (m *Model) dispatchSend(text string) tea.Cmd {
	now := time.Now()
	var attachments []attach.Attachment
	files := m.pendingFiles
	m.pendingFiles = nil
	for _, file := range files {
		attachments = append(attachments, attach.Attachment{
			Name:      file.Name,
			MimeType:  file.MimeType,
			SizeBytes: file.SizeBytes,
			CreatedAt: now,
		})
	}

	message := m.session.QueueSend(text, attachments, now)
	m.adapter.StopTyping(m.session.ChatID(), m.session.MyParticipantID(), m.session.SessionTag)

	commands := []tea.Cmd{
		m.sendCmd(message.ID, m.session.ChatID(), m.session.MyParticipantID(), text, m.session.SessionTag),
	}
	if len(files) > 0 {
		m.uploading = true
		commands = append(commands, m.uploadCmd(m.session.ChatID(), files))
	}
	return tea.Batch(commands...)
}

func (m *Model) handleCommand(command string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(command)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		m.adapter.Close()
		return m, tea.Quit
	case "/chats":
		m.mode = modeRoster
		m.roster.Open("")
		m.textInput.SetValue("")
		return m, m.listCmd()
	case "/attach":
		m.textInput.SetValue("")
		if len(fields) > 1 {
			return m, m.stageFiles(fields[1:])
		}
		m.enterFilePicker()
		return m, nil
	case "/channel":
		if len(fields) > 1 {
			return m.switchChannel(strings.ToLower(fields[1]))
		}
		m.notice = fmt.Sprintf("Channel: %s (use /channel support|vsl)", m.session.Channel)
		m.textInput.SetValue("")
		return m, nil
	case "/delete":
		return m.deleteConversation()
	default:
		m.notice = "Unknown command: " + fields[0]
		m.textInput.SetValue("")
		return m, nil
	}
}

// stageFiles validates selected paths against the size ceiling and stages
// the survivors for the next send. Rejection happens before any network
// call.
func (m *Model) stageFiles(paths []string) tea.Cmd {
	ok, rejected := upload.Stat(paths, upload.MaxFileSize)
	if len(rejected) > 0 {
		m.notice = upload.OversizeMessage(rejected)
	}
	m.pendingFiles = append(m.pendingFiles, ok...)
	return nil
}

func (m *Model) switchChannel(channel string) (tea.Model, tea.Cmd) {
	if channel != chat.ChannelSupport && channel != chat.ChannelVSL {
		m.notice = "Channels: support, vsl"
		m.textInput.SetValue("")
		return m, nil
	}
	m.session.Channel = channel
	m.textInput.SetValue("")
	m.mode = modeRoster
	m.loadingList = true
	return m, m.listCmd()
}

func (m *Model) deleteConversation() (tea.Model, tea.Cmd) {
	chatID := m.session.ChatID()
	if chatID == "" {
		m.textInput.SetValue("")
		return m, nil
	}
	m.session.Delete()
	if m.store != nil {
		_ = m.store.DeleteChatState(context.Background(), chatID, m.cfg.Role)
	}
	m.roster.Open("")
	m.textInput.SetValue("")
	m.mode = modeRoster
	return m, m.listCmd()
}

// handleSocketEvent routes one push. Returns a follow-up command when the
// event demands one.
func (m *Model) handleSocketEvent(event transport.Event) tea.Cmd {
	now := time.Now()
	switch {
	case event.Name == wire.EventNewMessage || wire.IsFileEvent(event.Name):
		msg, err := wire.DecodeMessage(event.Data)
		if err != nil {
			return nil
		}
		if msg.ChatID != "" && msg.ChatID != m.session.ChatID() {
			// A message for some other conversation only moves its
			// unread counter.
			fromOther := msg.EmitterID == "" || msg.EmitterID != m.session.MyParticipantID()
			m.roster.NoteIncoming(msg.ChatID, fromOther)
			return nil
		}
		result := m.session.Ingest(msg, chat.CtxRealtime, now)
		m.roster.NoteIncoming(msg.ChatID, result.FromOther)
		return nil

	case event.Name == wire.EventTyping:
		var notice wire.TypingNotice
		if err := json.Unmarshal(event.Data, &notice); err != nil {
			return nil
		}
		if notice.ClientSession == m.session.SessionTag {
			return nil
		}
		if notice.On {
			m.typingUntil = now.Add(2 * time.Second)
		} else {
			m.typingUntil = time.Time{}
		}
		return nil

	case event.Name == wire.EventMessageRead || event.Name == wire.EventReadAll:
		var notice wire.ReadNotice
		if err := json.Unmarshal(event.Data, &notice); err != nil {
			return nil
		}
		m.session.HandleRead(notice)
		m.roster.HandleReadAll(notice.ChatID)
		return nil

	case event.Name == wire.EventChatCreated:
		return m.listCmd()
	}
	return nil
}
