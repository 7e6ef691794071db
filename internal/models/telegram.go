package models

import "time"

// Chat is a group the bot tracks membership for.
type Chat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is one roster entry. UserID is the platform user id and the
// uniqueness key. Every other field is nullable: it stays nil until some
// event has supplied a value, and a nil in a later event never clears it.
type Member struct {
	UserID       int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ChatID       *int64    `gorm:"index" json:"chat_id"`
	AccessHash   *int64    `json:"access_hash,omitempty"`
	IdentityCode *string   `gorm:"uniqueIndex:idx_users_identity_code" json:"identity_code"`
	FirstName    *string   `json:"first_name"`
	LastName     *string   `json:"last_name"`
	DisplayName  *string   `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Member) TableName() string { return "users" }

// Assigned reports whether the member has been correlated to an enrollment record.
func (m Member) Assigned() bool { return m.IdentityCode != nil }
