package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/models"
	"github.com/lojf/rostersync/internal/services"
	"github.com/lojf/rostersync/internal/store"
)

const maxIngestBytes = 8 << 20

// Member classifications.
const (
	StatusValid        = "valid"
	StatusUnidentified = "unidentified"
	StatusLapsed       = "lapsed"
)

type memberView struct {
	models.Member
	Status string `json:"status"`
}

// POST /api/members with a JSON array of member events.
func (h *Handlers) IngestMembers(w http.ResponseWriter, r *http.Request) {
	var evs []events.MemberEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&evs); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of member events")
		return
	}
	for i, ev := range evs {
		if ev.UserID == 0 {
			writeError(w, http.StatusBadRequest, "event "+strconv.Itoa(i)+" has no user_id")
			return
		}
	}

	res, err := h.Roster.IngestEvents(r.Context(), evs)
	h.Metrics.MemberEvent("upserted", res.Upserted)
	h.Metrics.MemberEvent("automated", res.Automated)
	if err != nil {
		h.Metrics.MemberEvent("failed", 1)
		h.Log.Error().Err(err).Int("upserted", res.Upserted).Msg("member ingestion failed")
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrStoreWrite) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"error": "ingestion failed", "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/members[?status=valid|unidentified|lapsed]
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	switch filter {
	case "", StatusValid, StatusUnidentified, StatusLapsed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+filter)
		return
	}

	views, err := h.classifiedRoster(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("list members")
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	out := make([]memberView, 0, len(views))
	for _, v := range views {
		if filter == "" || v.Status == filter {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// classifiedRoster labels every member with the classification the next
// cycle would give it against the current snapshot.
func (h *Handlers) classifiedRoster(ctx context.Context) ([]memberView, error) {
	members, err := h.Roster.List(ctx)
	if err != nil {
		return nil, err
	}
	lapsed, err := services.LapsedMembers(ctx, h.Roster, h.Enrollments, h.Today())
	if err != nil {
		return nil, err
	}
	isLapsed := make(map[int64]bool, len(lapsed))
	for _, m := range lapsed {
		isLapsed[m.UserID] = true
	}

	out := make([]memberView, 0, len(members))
	for _, m := range members {
		status := StatusValid
		switch {
		case !m.Assigned():
			status = StatusUnidentified
		case isLapsed[m.UserID]:
			status = StatusLapsed
		}
		out = append(out, memberView{Member: m, Status: status})
	}
	return out, nil
}
