package bot

// Update is the subset of a Bot API update the roster cares about.
type Update struct {
	UpdateID   int64              `json:"update_id"`
	Message    *Message           `json:"message,omitempty"`
	ChatMember *ChatMemberUpdated `json:"chat_member,omitempty"`
}

type Message struct {
	MessageID       int64  `json:"message_id"`
	From            *User  `json:"from"`
	Chat            *Chat  `json:"chat"`
	Text            string `json:"text"`
	NewChatMembers  []User `json:"new_chat_members,omitempty"`
	MigrateToChatID int64  `json:"migrate_to_chat_id,omitempty"`
}

type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ChatMemberUpdated arrives when a member's status in a chat changes.
type ChatMemberUpdated struct {
	Chat          Chat       `json:"chat"`
	From          User       `json:"from"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

type ChatMember struct {
	User   User   `json:"user"`
	Status string `json:"status"` // member | administrator | left | kicked ...
}
