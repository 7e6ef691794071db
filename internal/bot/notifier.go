package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/models"
)

// Telegram rejects messages over 4096 characters.
const maxMessageLen = 4000

// Notifier posts cycle reports to one admin chat.
type Notifier struct {
	Client *Client
	ChatID int64
}

func (n *Notifier) Notify(ctx context.Context, r events.CycleReport) error {
	for _, msg := range pack(ReportLines(r), maxMessageLen) {
		if err := n.Client.SendMessage(ctx, n.ChatID, msg); err != nil {
			return err
		}
	}
	return nil
}

// ReportLines renders one line per unidentified member, lapsed member and
// ambiguity, HTML-escaped.
func ReportLines(r events.CycleReport) []string {
	var lines []string
	for _, m := range r.Unidentified {
		lines = append(lines, fmt.Sprintf("User name doesn't include an enrollment ID: %s (id %d)", name(m), m.UserID))
	}
	for _, m := range r.Lapsed {
		lines = append(lines, fmt.Sprintf("User %s didn't renew membership, enrollment ID: %s (id %d)", name(m), code(m), m.UserID))
	}
	for _, a := range r.Ambiguities {
		lines = append(lines, fmt.Sprintf("Check %s (id %d): %s %s, assigned %q",
			html.EscapeString(a.DisplayName), a.UserID, a.Reason,
			html.EscapeString(strings.Join(a.Candidates, ",")), a.Chosen))
	}
	return lines
}

func name(m models.Member) string {
	if m.DisplayName != nil {
		return "<b>" + html.EscapeString(*m.DisplayName) + "</b>"
	}
	var parts []string
	if m.FirstName != nil {
		parts = append(parts, *m.FirstName)
	}
	if m.LastName != nil {
		parts = append(parts, *m.LastName)
	}
	if len(parts) == 0 {
		return "-"
	}
	return html.EscapeString(strings.Join(parts, " "))
}

func code(m models.Member) string {
	if m.IdentityCode == nil {
		return "-"
	}
	return html.EscapeString(*m.IdentityCode)
}

// pack joins lines into messages no longer than limit. A single longer line
// is sent on its own.
func pack(lines []string, limit int) []string {
	var out []string
	var b strings.Builder
	for _, l := range lines {
		if b.Len() > 0 && b.Len()+1+len(l) > limit {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// LogNotifier writes reports to the log when no bot is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, r events.CycleReport) error {
	for _, m := range r.Unidentified {
		n.Log.Warn().Str("cycle_id", r.CycleID).Int64("user_id", m.UserID).Msg("unidentified member")
	}
	for _, m := range r.Lapsed {
		n.Log.Warn().Str("cycle_id", r.CycleID).Int64("user_id", m.UserID).Str("identity_code", code(m)).Msg("lapsed member")
	}
	return nil
}
