package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/models"
)

// CycleStore keeps the audit trail of reconciliation cycles.
type CycleStore struct {
	db *gorm.DB
}

func NewCycleStore(db *gorm.DB) *CycleStore { return &CycleStore{db: db} }

func (s *CycleStore) Start(ctx context.Context, run *models.CycleRun) error {
	return writeErr("start cycle run", s.db.WithContext(ctx).Create(run).Error)
}

func (s *CycleStore) Finish(ctx context.Context, run *models.CycleRun) error {
	return writeErr("finish cycle run", s.db.WithContext(ctx).Save(run).Error)
}

// Recent returns the latest runs, newest first.
func (s *CycleStore) Recent(ctx context.Context, limit int) ([]models.CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.CycleRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
