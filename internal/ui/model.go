// Package ui is the bubbletea front end. All socket events, timers, and
// keystrokes are serialized through Update, which is what lets the chat
// core stay lock-free.
package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"coachchat/internal/chat"
	"coachchat/internal/config"
	"coachchat/internal/storage"
	"coachchat/internal/transport"
	"coachchat/internal/upload"
	"coachchat/internal/wire"
)

type uiMode int

const (
	modeRoster uiMode = iota
	modeChat
	modeFilePick
)

// Model holds the bubbletea state for the chat client.
type Model struct {
	cfg  *config.Config
	role chat.Role

	adapter  *transport.Adapter
	session  *chat.Session
	roster   *chat.Roster
	uploader *upload.Uploader
	store    *storage.Store

	textInput textinput.Model
	mode      uiMode
	cursor    int

	connected       bool
	connectionError error
	notice          string

	isJoining   bool
	loadingList bool
	uploading   bool

	pendingFiles []upload.LocalFile
	pendingText  string

	// typingUntil shows the other side's typing indicator until it
	// expires.
	typingUntil time.Time

	browsePath  string
	browseItems []fileItem
	browseIndex int

	width  int
	height int
}

// NewModel builds the client model. The store may be nil in tests.
func NewModel(cfg *config.Config, store *storage.Store) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	role := chat.Role(cfg.Role)
	session := chat.NewSession(role, cfg.Channel)

	var unreadStore chat.UnreadStore
	if store != nil {
		unreadStore = store.ForRole(cfg.Role)
	}

	return &Model{
		cfg:       cfg,
		role:      role,
		adapter:   transport.NewAdapter(cfg.ServerURL),
		session:   session,
		roster:    chat.NewRoster(unreadStore),
		uploader:  upload.NewUploader(cfg.UploadURL, cfg.UploadFallbackURL),
		store:     store,
		textInput: input,
		mode:      modeRoster,
	}
}

// Init dials the socket and starts the periodic ticks.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), m.pollTickCmd(), m.sweepTickCmd())
}

// listFilter narrows the conversation list to the local identity: students
// see their own conversations, team roles see their assigned ones.
func (m *Model) listFilter() wire.ListFilter {
	filter := wire.ListFilter{IncludeParticipants: true}
	if m.role == chat.RoleStudent {
		filter.ParticipantType = wire.TypeCliente
		filter.ExternalID = m.cfg.StudentCode
	} else {
		filter.ParticipantType = wire.TypeEquipo
	}
	return filter
}

// Run launches the program.
func Run(cfg *config.Config, store *storage.Store) error {
	program := tea.NewProgram(NewModel(cfg, store), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
