package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"coachchat/internal/chat"
	"coachchat/internal/transport"
	"coachchat/internal/upload"
	"coachchat/internal/wire"
)

// bubbletea messages for the asynchronous results that feed Update.
type (
	connectedMsg     struct{}
	connectFailedMsg struct{ err error }
	disconnectedMsg  struct{}
	reconnectMsg     struct{}

	socketEventMsg transport.Event

	listLoadedMsg struct {
		summaries []wire.ChatSummary
		err       error
	}
	joinedMsg struct {
		resp *wire.JoinResponse
		ctx  chat.Context
		err  error
	}
	enrichedMsg struct {
		chatID string
		resp   *wire.JoinResponse
	}
	createdMsg struct {
		resp *wire.CreateResponse
		err  error
	}
	sendAckMsg struct {
		clientID string
		ack      *wire.SendAck
		err      error
	}
	uploadDoneMsg struct{ results []upload.Result }

	pollTickMsg    time.Time
	sweepTickMsg   time.Time
	joinTimeoutMsg struct{}
)

func (m *Model) connectCmd() tea.Cmd {
	adapter := m.adapter
	resolver := transport.FileTokenResolver(m.cfg.TokenPath)
	return func() tea.Msg {
		if err := adapter.Connect(context.Background(), resolver); err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{}
	}
}

// waitEventCmd blocks on the push stream; it is re-issued after every
// delivered event so exactly one reader exists at a time.
func (m *Model) waitEventCmd() tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		select {
		case event, ok := <-adapter.Events():
			if !ok {
				return disconnectedMsg{}
			}
			return socketEventMsg(event)
		case <-adapter.Done():
			return disconnectedMsg{}
		}
	}
}

func (m *Model) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (m *Model) listCmd() tea.Cmd {
	adapter := m.adapter
	filter := m.listFilter()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		summaries, err := adapter.List(ctx, filter)
		return listLoadedMsg{summaries: summaries, err: err}
	}
}

func (m *Model) joinCmd(chatID string, ingestCtx chat.Context) tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), chat.JoinTimeout)
		defer cancel()
		resp, err := adapter.Join(ctx, chatID)
		return joinedMsg{resp: resp, ctx: ingestCtx, err: err}
	}
}

// enrichCmd runs the roster's join probes for summaries that arrived
// without participant sets.
func (m *Model) enrichCmd(chatIDs []string) tea.Cmd {
	adapter := m.adapter
	commands := make([]tea.Cmd, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		id := chatID
		commands = append(commands, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), chat.JoinTimeout)
			defer cancel()
			resp, err := adapter.Join(ctx, id)
			if err != nil {
				return nil
			}
			return enrichedMsg{chatID: id, resp: resp}
		})
	}
	return tea.Sequence(commands...)
}

func (m *Model) createCmd(participants []wire.Participant) tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := adapter.Create(ctx, participants)
		return createdMsg{resp: resp, err: err}
	}
}

func (m *Model) sendCmd(clientID, chatID, participantID, text, sessionTag string) tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ack, err := adapter.Send(ctx, chatID, participantID, text, sessionTag)
		return sendAckMsg{clientID: clientID, ack: ack, err: err}
	}
}

func (m *Model) uploadCmd(chatID string, files []upload.LocalFile) tea.Cmd {
	uploader := m.uploader
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		return uploadDoneMsg{results: uploader.UploadAll(ctx, chatID, files)}
	}
}

func (m *Model) pollTickCmd() tea.Cmd {
	return tea.Tick(m.session.PollInterval(), func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m *Model) sweepTickCmd() tea.Cmd {
	const sweepEvery = 5 * time.Second
	return tea.Tick(sweepEvery, func(t time.Time) tea.Msg {
		return sweepTickMsg(t)
	})
}

func (m *Model) joinTimeoutCmd() tea.Cmd {
	return tea.Tick(chat.JoinTimeout, func(time.Time) tea.Msg {
		return joinTimeoutMsg{}
	})
}
