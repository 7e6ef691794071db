package bot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/store"
)

// MemberSink stores membership events.
type MemberSink interface {
	IngestEvents(ctx context.Context, evs []events.MemberEvent) (store.IngestResult, error)
}

// ChatRegistry records the chats the bot sits in.
type ChatRegistry interface {
	AddChat(ctx context.Context, id int64, name, typ string) error
	UpdateChatID(ctx context.Context, oldID, newID int64) error
}

// Dispatcher routes webhook updates from allowed chats into the roster.
type Dispatcher struct {
	members MemberSink
	chats   ChatRegistry
	allowed map[int64]bool // nil allows every chat
	log     zerolog.Logger
}

// NewDispatcher builds a dispatcher. An empty allowed list admits all chats.
func NewDispatcher(members MemberSink, chats ChatRegistry, allowed []int64, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{members: members, chats: chats, log: log}
	if len(allowed) > 0 {
		d.allowed = make(map[int64]bool, len(allowed))
		for _, id := range allowed {
			d.allowed[id] = true
		}
	}
	return d
}

func (d *Dispatcher) Allowed(chatID int64) bool {
	return d.allowed == nil || d.allowed[chatID]
}

// Handle applies one update. Updates from chats outside the allow list are
// dropped without error.
func (d *Dispatcher) Handle(ctx context.Context, u *Update) error {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return d.handleMessage(ctx, u.Message)
	case u.ChatMember != nil:
		return d.handleChatMember(ctx, u.ChatMember)
	}
	return nil
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *Message) error {
	chat := m.Chat
	if !d.Allowed(chat.ID) {
		d.log.Debug().Int64("chat_id", chat.ID).Msg("ignoring update from chat not allowed")
		return nil
	}

	if m.MigrateToChatID != 0 {
		return d.chats.UpdateChatID(ctx, chat.ID, m.MigrateToChatID)
	}
	if err := d.chats.AddChat(ctx, chat.ID, chat.Title, chat.Type); err != nil {
		return err
	}

	var users []User
	users = append(users, m.NewChatMembers...)
	if m.From != nil {
		users = append(users, *m.From)
	}
	return d.ingest(ctx, chat.ID, users)
}

func (d *Dispatcher) handleChatMember(ctx context.Context, cm *ChatMemberUpdated) error {
	if !d.Allowed(cm.Chat.ID) {
		return nil
	}
	switch cm.NewChatMember.Status {
	case "left", "kicked":
		return nil
	}
	if err := d.chats.AddChat(ctx, cm.Chat.ID, cm.Chat.Title, cm.Chat.Type); err != nil {
		return err
	}
	return d.ingest(ctx, cm.Chat.ID, []User{cm.NewChatMember.User})
}

func (d *Dispatcher) ingest(ctx context.Context, chatID int64, users []User) error {
	if len(users) == 0 {
		return nil
	}
	evs := make([]events.MemberEvent, 0, len(users))
	for _, u := range users {
		evs = append(evs, MemberEventFor(chatID, u))
	}
	res, err := d.members.IngestEvents(ctx, evs)
	if err != nil {
		return err
	}
	d.log.Debug().Int64("chat_id", chatID).Int("upserted", res.Upserted).Int("automated", res.Automated).Msg("ingested members")
	return nil
}

// MemberEventFor maps a Bot API user to a membership event. The Bot API has
// no access hash, and empty strings carry no information.
func MemberEventFor(chatID int64, u User) events.MemberEvent {
	return events.MemberEvent{
		ChatID:             &chatID,
		UserID:             u.ID,
		FirstName:          nonEmpty(u.FirstName),
		LastName:           nonEmpty(u.LastName),
		DisplayName:        nonEmpty(u.Username),
		IsAutomatedAccount: u.IsBot,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
