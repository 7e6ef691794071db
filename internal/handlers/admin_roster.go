package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
)

// GET /api/roster.csv
func (h *Handlers) RosterCSV(w http.ResponseWriter, r *http.Request) {
	views, err := h.classifiedRoster(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("roster export")
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("roster-%s.csv", h.Today().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	cw := csv.NewWriter(w)
	defer cw.Flush()

	_ = cw.Write([]string{
		"User ID", "Chat ID", "Display Name", "First Name", "Last Name", "Identity Code", "Status",
	})
	for _, v := range views {
		chatID := ""
		if v.ChatID != nil {
			chatID = strconv.FormatInt(*v.ChatID, 10)
		}
		_ = cw.Write([]string{
			strconv.FormatInt(v.UserID, 10),
			chatID,
			deref(v.DisplayName),
			deref(v.FirstName),
			deref(v.LastName),
			deref(v.IdentityCode),
			v.Status,
		})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
