package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/models"
)

const insertBatchSize = 200

// EnrollmentStore holds the latest enrollment feed snapshot.
type EnrollmentStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewEnrollmentStore(db *gorm.DB, log zerolog.Logger) *EnrollmentStore {
	return &EnrollmentStore{db: db, log: log}
}

// WithTx returns a copy of the store that runs inside tx.
func (s *EnrollmentStore) WithTx(tx *gorm.DB) *EnrollmentStore {
	return &EnrollmentStore{db: tx, log: s.log}
}

// ReplaceAll swaps the whole table for recs in one transaction. Readers see
// either the previous snapshot or the new one. On error nothing changes.
func (s *EnrollmentStore) ReplaceAll(ctx context.Context, recs []models.EnrollmentRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&models.EnrollmentRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.CreateInBatches(recs, insertBatchSize).Error
	})
	if err != nil {
		return writeErr("replace enrollment records", err)
	}
	s.log.Info().Int("records", len(recs)).Msg("replaced enrollment_renewals")
	return nil
}

func (s *EnrollmentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.EnrollmentRecord{}).Count(&n).Error
	return n, err
}

func (s *EnrollmentStore) Get(ctx context.Context, code string) (*models.EnrollmentRecord, error) {
	var rec models.EnrollmentRecord
	err := s.db.WithContext(ctx).Where("identity_code = ?", code).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every record ordered by identity code.
func (s *EnrollmentStore) List(ctx context.Context) ([]models.EnrollmentRecord, error) {
	var out []models.EnrollmentRecord
	err := s.db.WithContext(ctx).Order("identity_code").Find(&out).Error
	return out, err
}

// Codes returns every identity code in byte-wise ascending order, whatever
// the database collation.
func (s *EnrollmentStore) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := s.db.WithContext(ctx).Model(&models.EnrollmentRecord{}).
		Pluck("identity_code", &codes).Error; err != nil {
		return nil, err
	}
	sort.Strings(codes)
	return codes, nil
}

// DueBefore returns records whose autoship date is set and strictly before
// day. day must be a UTC-midnight date, as stored.
func (s *EnrollmentStore) DueBefore(ctx context.Context, day time.Time) ([]models.EnrollmentRecord, error) {
	var out []models.EnrollmentRecord
	err := s.db.WithContext(ctx).
		Where("autoship_date IS NOT NULL AND autoship_date < ?", day).
		Order("identity_code").
		Find(&out).Error
	return out, err
}
