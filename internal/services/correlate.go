package services

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/logging"
	"github.com/lojf/rostersync/internal/models"
	"github.com/lojf/rostersync/internal/store"
)

// Assignment links a member to an enrollment identity code.
type Assignment struct {
	UserID       int64  `json:"user_id"`
	IdentityCode string `json:"identity_code"`
}

// Correlation is the outcome of one correlator run.
type Correlation struct {
	Assigned    []Assignment
	Ambiguities []events.Ambiguity
}

// MatchCodes returns the codes that occur in displayName, case-sensitively,
// in the order of codes. Empty codes never match.
func MatchCodes(displayName string, codes []string) []string {
	var out []string
	for _, c := range codes {
		if c != "" && strings.Contains(displayName, c) {
			out = append(out, c)
		}
	}
	return out
}

// rankCandidates orders matched codes longest first, keeping code order
// among equal lengths, so E100 in "Ann_E100" beats its prefix E1.
func rankCandidates(cands []string) {
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i]) > len(cands[j]) })
}

// PlanAssignments picks a code for each unassigned member. codes must be
// sorted; among the matching codes not already in taken, the longest wins
// and ties go to code order. taken is updated with every code handed out so
// no code goes to two members.
func PlanAssignments(members []models.Member, codes []string, taken map[string]bool) Correlation {
	var out Correlation
	for _, m := range members {
		if m.Assigned() || m.DisplayName == nil {
			continue
		}
		cands := MatchCodes(*m.DisplayName, codes)
		if len(cands) == 0 {
			continue
		}
		rankCandidates(cands)

		chosen := ""
		var held []string
		for _, c := range cands {
			if taken[c] {
				held = append(held, c)
				continue
			}
			chosen = c
			break
		}

		if len(cands) > 1 {
			out.Ambiguities = append(out.Ambiguities, events.Ambiguity{
				UserID:      m.UserID,
				DisplayName: *m.DisplayName,
				Candidates:  cands,
				Chosen:      chosen,
				Reason:      events.AmbiguityMultipleCodes,
			})
		}
		if len(held) > 0 {
			out.Ambiguities = append(out.Ambiguities, events.Ambiguity{
				UserID:      m.UserID,
				DisplayName: *m.DisplayName,
				Candidates:  held,
				Chosen:      chosen,
				Reason:      events.AmbiguityCodeTaken,
			})
		}
		if chosen == "" {
			continue
		}
		taken[chosen] = true
		out.Assigned = append(out.Assigned, Assignment{UserID: m.UserID, IdentityCode: chosen})
	}
	return out
}

// Correlator assigns enrollment identity codes to roster members whose
// display name contains one. Assigned codes are never replaced or cleared.
type Correlator struct {
	log zerolog.Logger
}

func NewCorrelator(log zerolog.Logger) *Correlator {
	return &Correlator{log: log}
}

// UpdateIdentityCodes correlates every unassigned member against the current
// enrollment codes and persists the assignments. Pass stores bound to a
// transaction to make the run atomic.
func (c *Correlator) UpdateIdentityCodes(ctx context.Context, roster *store.RosterStore, enrollments *store.EnrollmentStore) (Correlation, error) {
	codes, err := enrollments.Codes(ctx)
	if err != nil {
		return Correlation{}, err
	}
	members, err := roster.Unassigned(ctx)
	if err != nil {
		return Correlation{}, err
	}
	taken, err := roster.AssignedCodes(ctx)
	if err != nil {
		return Correlation{}, err
	}

	plan := PlanAssignments(members, codes, taken)
	log := logging.FromContext(ctx, c.log)

	var applied []Assignment
	for _, a := range plan.Assigned {
		ok, err := roster.AssignIdentityCode(ctx, a.UserID, a.IdentityCode)
		if err != nil {
			return Correlation{}, err
		}
		if !ok {
			continue
		}
		applied = append(applied, a)
		log.Info().Int64("user_id", a.UserID).Str("identity_code", a.IdentityCode).Msg("assigned identity code")
	}
	for _, amb := range plan.Ambiguities {
		log.Warn().
			Int64("user_id", amb.UserID).
			Str("display_name", amb.DisplayName).
			Strs("candidates", amb.Candidates).
			Str("chosen", amb.Chosen).
			Str("reason", amb.Reason).
			Msg("ambiguous identity code match")
	}

	plan.Assigned = applied
	return plan, nil
}
