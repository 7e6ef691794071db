package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/models"
)

// MemberUpdate carries the fields of one membership observation. Nil means
// "not reported" and never overwrites a stored value.
type MemberUpdate struct {
	ChatID      *int64
	AccessHash  *int64
	FirstName   *string
	LastName    *string
	DisplayName *string
}

// UpdateFromEvent extracts the roster fields of a platform event.
func UpdateFromEvent(ev events.MemberEvent) MemberUpdate {
	return MemberUpdate{
		ChatID:      ev.ChatID,
		AccessHash:  ev.AccessHash,
		FirstName:   ev.FirstName,
		LastName:    ev.LastName,
		DisplayName: ev.DisplayName,
	}
}

// Merge applies in over existing: every non-nil incoming field replaces the
// stored one, nil fields leave it alone. IdentityCode is never touched.
func Merge(existing models.Member, in MemberUpdate) models.Member {
	existing.ChatID = coalesce(in.ChatID, existing.ChatID)
	existing.AccessHash = coalesce(in.AccessHash, existing.AccessHash)
	existing.FirstName = coalesce(in.FirstName, existing.FirstName)
	existing.LastName = coalesce(in.LastName, existing.LastName)
	existing.DisplayName = coalesce(in.DisplayName, existing.DisplayName)
	return existing
}

func coalesce[T any](in, cur *T) *T {
	if in == nil {
		return cur
	}
	v := *in
	return &v
}

// rosterColumns are the columns an upsert may write.
var rosterColumns = []string{"chat_id", "access_hash", "first_name", "last_name", "display_name", "updated_at"}

// memberLocks serializes upserts per user id inside this process. Row locks
// cover the cross-process case on Postgres; SQLite runs a single writer.
type memberLocks [64]sync.Mutex

func (l *memberLocks) lock(userID int64) func() {
	mu := &l[uint64(userID)%uint64(len(l))]
	mu.Lock()
	return mu.Unlock
}

// RosterStore persists chat members in the users table.
type RosterStore struct {
	db    *gorm.DB
	log   zerolog.Logger
	locks *memberLocks
}

func NewRosterStore(db *gorm.DB, log zerolog.Logger) *RosterStore {
	return &RosterStore{db: db, log: log, locks: new(memberLocks)}
}

// WithTx returns a copy of the store that runs inside tx.
func (s *RosterStore) WithTx(tx *gorm.DB) *RosterStore {
	return &RosterStore{db: tx, log: s.log, locks: s.locks}
}

func (s *RosterStore) MemberExists(ctx context.Context, userID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Member{}).Where("user_id = ?", userID).Limit(1).Count(&n).Error
	return n > 0, err
}

func (s *RosterStore) Get(ctx context.Context, userID int64) (*models.Member, error) {
	var m models.Member
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMember inserts the member with a nil identity code, or coalesces in
// over the stored row. Calls for the same user id are serialized, so repeated
// calls converge on the latest non-nil value of every field.
func (s *RosterStore) UpsertMember(ctx context.Context, userID int64, in MemberUpdate) (models.Member, error) {
	defer s.locks.lock(userID)()

	var out models.Member
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var existing models.Member
		err := q.Where("user_id = ?", userID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = Merge(models.Member{UserID: userID}, in)
			created = true
			return tx.Create(&out).Error
		}
		if err != nil {
			return err
		}
		out = Merge(existing, in)
		return tx.Model(&out).Select(rosterColumns).Updates(&out).Error
	})
	if err != nil {
		return models.Member{}, writeErr("upsert member", err)
	}

	ev := s.log.Info().Int64("user_id", userID)
	if out.ChatID != nil {
		ev = ev.Int64("chat_id", *out.ChatID)
	}
	if out.DisplayName != nil {
		ev = ev.Str("display_name", *out.DisplayName)
	}
	if created {
		ev.Msg("added member")
	} else {
		ev.Msg("updated member")
	}
	return out, nil
}

// IngestResult counts what IngestEvents did.
type IngestResult struct {
	Upserted  int `json:"upserted"`
	Automated int `json:"skipped_automated"`
}

// IngestEvents upserts every human account in evs, skipping automated ones.
// It stops at the first failed write.
func (s *RosterStore) IngestEvents(ctx context.Context, evs []events.MemberEvent) (IngestResult, error) {
	var res IngestResult
	for _, ev := range evs {
		if ev.IsAutomatedAccount {
			res.Automated++
			continue
		}
		if _, err := s.UpsertMember(ctx, ev.UserID, UpdateFromEvent(ev)); err != nil {
			return res, err
		}
		res.Upserted++
	}
	return res, nil
}

// List returns every member ordered by user id.
func (s *RosterStore) List(ctx context.Context) ([]models.Member, error) {
	var out []models.Member
	err := s.db.WithContext(ctx).Order("user_id").Find(&out).Error
	return out, err
}

// Unassigned returns members with no identity code, ordered by user id.
func (s *RosterStore) Unassigned(ctx context.Context) ([]models.Member, error) {
	var out []models.Member
	err := s.db.WithContext(ctx).Where("identity_code IS NULL").Order("user_id").Find(&out).Error
	return out, err
}

// AssignedCodes returns the set of identity codes already held by some member.
func (s *RosterStore) AssignedCodes(ctx context.Context) (map[string]bool, error) {
	var codes []string
	err := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("identity_code IS NOT NULL").
		Pluck("identity_code", &codes).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(codes))
	for _, c := range codes {
		out[c] = true
	}
	return out, nil
}

// ByIdentityCodes returns members holding any of codes, ordered by user id.
func (s *RosterStore) ByIdentityCodes(ctx context.Context, codes []string) ([]models.Member, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var out []models.Member
	err := s.db.WithContext(ctx).Where("identity_code IN ?", codes).Order("user_id").Find(&out).Error
	return out, err
}

// AssignIdentityCode sets the member's code only if it is still nil. It
// reports whether the row changed.
func (s *RosterStore) AssignIdentityCode(ctx context.Context, userID int64, code string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("user_id = ? AND identity_code IS NULL", userID).
		Update("identity_code", code)
	if res.Error != nil {
		return false, writeErr("assign identity code", res.Error)
	}
	return res.RowsAffected == 1, nil
}
