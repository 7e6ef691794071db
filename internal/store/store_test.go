package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/db"
	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/models"
	"github.com/lojf/rostersync/internal/store"
)

// openTestDB returns an isolated file-backed SQLite database in a temp directory.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	conn, err := db.Open(db.Options{Driver: db.DriverSQLite, DSN: dsn, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

func str(s string) *string { return &s }
func i64(n int64) *int64   { return &n }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestMerge_Coalesce(t *testing.T) {
	existing := models.Member{
		UserID:       1,
		ChatID:       i64(10),
		FirstName:    str("Ann"),
		DisplayName:  str("ann_E100"),
		IdentityCode: str("E100"),
	}
	got := store.Merge(existing, store.MemberUpdate{
		ChatID:   i64(20),
		LastName: str("Lee"),
	})

	assert.Equal(t, int64(20), *got.ChatID)
	assert.Equal(t, "Ann", *got.FirstName)
	assert.Equal(t, "Lee", *got.LastName)
	assert.Equal(t, "ann_E100", *got.DisplayName)
	assert.Equal(t, "E100", *got.IdentityCode)
	assert.Nil(t, got.AccessHash)
}

func TestMerge_DoesNotAliasInput(t *testing.T) {
	name := "first"
	got := store.Merge(models.Member{UserID: 1}, store.MemberUpdate{FirstName: &name})
	name = "changed"
	assert.Equal(t, "first", *got.FirstName)
}

// A field ends up nil only if no update in the sequence ever supplied it.
func TestMerge_SequenceInvariant(t *testing.T) {
	updates := []store.MemberUpdate{
		{FirstName: str("A")},
		{},
		{LastName: str("B"), FirstName: nil},
		{DisplayName: str("C")},
		{FirstName: str("A2")},
		{},
	}
	m := models.Member{UserID: 7}
	for _, u := range updates {
		m = store.Merge(m, u)
	}
	assert.Equal(t, "A2", *m.FirstName)
	assert.Equal(t, "B", *m.LastName)
	assert.Equal(t, "C", *m.DisplayName)
	assert.Nil(t, m.ChatID)
	assert.Nil(t, m.AccessHash)
}

func TestRoster_UpsertInsertsThenCoalesces(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())

	exists, err := rs.MemberExists(ctx, 42)
	require.NoError(t, err)
	assert.False(t, exists)

	m, err := rs.UpsertMember(ctx, 42, store.MemberUpdate{
		ChatID:      i64(-100),
		AccessHash:  i64(999),
		FirstName:   str("Ann"),
		DisplayName: str("ann_E100"),
	})
	require.NoError(t, err)
	assert.Nil(t, m.IdentityCode)

	exists, err = rs.MemberExists(ctx, 42)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = rs.UpsertMember(ctx, 42, store.MemberUpdate{LastName: str("Lee")})
	require.NoError(t, err)

	got, err := rs.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), *got.ChatID)
	assert.Equal(t, int64(999), *got.AccessHash)
	assert.Equal(t, "Ann", *got.FirstName)
	assert.Equal(t, "Lee", *got.LastName)
	assert.Equal(t, "ann_E100", *got.DisplayName)
}

func TestRoster_UpsertKeepsIdentityCode(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())

	_, err := rs.UpsertMember(ctx, 1, store.MemberUpdate{DisplayName: str("x_E1")})
	require.NoError(t, err)
	ok, err := rs.AssignIdentityCode(ctx, 1, "E1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = rs.UpsertMember(ctx, 1, store.MemberUpdate{DisplayName: str("renamed")})
	require.NoError(t, err)

	got, err := rs.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got.IdentityCode)
	assert.Equal(t, "E1", *got.IdentityCode)
	assert.Equal(t, "renamed", *got.DisplayName)
}

func TestRoster_AssignIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())
	_, err := rs.UpsertMember(ctx, 1, store.MemberUpdate{})
	require.NoError(t, err)

	ok, err := rs.AssignIdentityCode(ctx, 1, "E1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rs.AssignIdentityCode(ctx, 1, "E2")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := rs.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "E1", *got.IdentityCode)

	codes, err := rs.AssignedCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"E1": true}, codes)
}

func TestRoster_GetMissing(t *testing.T) {
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())
	_, err := rs.Get(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrMemberNotFound)
}

func TestRoster_ConcurrentUpsertsConverge(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())

	updates := []store.MemberUpdate{
		{ChatID: i64(5)},
		{AccessHash: i64(6)},
		{FirstName: str("F")},
		{LastName: str("L")},
		{DisplayName: str("D")},
		{},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(updates))
	for _, u := range updates {
		wg.Add(1)
		go func(u store.MemberUpdate) {
			defer wg.Done()
			_, err := rs.UpsertMember(ctx, 77, u)
			errs <- err
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := rs.Get(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *got.ChatID)
	assert.Equal(t, int64(6), *got.AccessHash)
	assert.Equal(t, "F", *got.FirstName)
	assert.Equal(t, "L", *got.LastName)
	assert.Equal(t, "D", *got.DisplayName)
}

func TestRoster_IngestSkipsAutomatedAccounts(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())

	res, err := rs.IngestEvents(ctx, []events.MemberEvent{
		{UserID: 1, ChatID: i64(-1), DisplayName: str("human")},
		{UserID: 2, ChatID: i64(-1), DisplayName: str("helper_bot"), IsAutomatedAccount: true},
		{UserID: 3, ChatID: i64(-1)},
	})
	require.NoError(t, err)
	assert.Equal(t, store.IngestResult{Upserted: 2, Automated: 1}, res)

	all, err := rs.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].UserID)
	assert.Equal(t, int64(3), all[1].UserID)
}

func TestRoster_ByIdentityCodes(t *testing.T) {
	ctx := context.Background()
	rs := store.NewRosterStore(openTestDB(t), zerolog.Nop())
	for id, code := range map[int64]string{1: "A", 2: "B", 3: "C"} {
		_, err := rs.UpsertMember(ctx, id, store.MemberUpdate{})
		require.NoError(t, err)
		_, err = rs.AssignIdentityCode(ctx, id, code)
		require.NoError(t, err)
	}

	got, err := rs.ByIdentityCodes(ctx, []string{"C", "A", "Z"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, int64(3), got[1].UserID)

	got, err = rs.ByIdentityCodes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func records(n int, prefix string) []models.EnrollmentRecord {
	out := make([]models.EnrollmentRecord, n)
	for i := range out {
		out[i] = models.EnrollmentRecord{IdentityCode: fmt.Sprintf("%s%04d", prefix, i)}
	}
	return out
}

func TestEnrollment_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	es := store.NewEnrollmentStore(openTestDB(t), zerolog.Nop())

	require.NoError(t, es.ReplaceAll(ctx, records(3, "OLD")))
	require.NoError(t, es.ReplaceAll(ctx, records(2, "NEW")))

	codes, err := es.Codes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW0000", "NEW0001"}, codes)

	_, err = es.Get(ctx, "OLD0000")
	assert.ErrorIs(t, err, store.ErrEnrollmentNotFound)
}

func TestEnrollment_ReplaceAllRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	es := store.NewEnrollmentStore(openTestDB(t), zerolog.Nop())
	require.NoError(t, es.ReplaceAll(ctx, records(3, "OLD")))

	bad := append(records(2, "NEW"), models.EnrollmentRecord{IdentityCode: "NEW0000"})
	err := es.ReplaceAll(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStoreWrite)

	n, err := es.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// A concurrent reader only ever sees the old snapshot or the new one.
func TestEnrollment_ReplaceAllIsAtomicToReaders(t *testing.T) {
	ctx := context.Background()
	es := store.NewEnrollmentStore(openTestDB(t), zerolog.Nop())
	require.NoError(t, es.ReplaceAll(ctx, records(3, "OLD")))

	done := make(chan struct{})
	seen := make(chan int64, 1024)
	go func() {
		defer close(seen)
		for {
			select {
			case <-done:
				return
			default:
			}
			n, err := es.Count(ctx)
			if err == nil {
				select {
				case seen <- n:
				default:
				}
			}
		}
	}()

	require.NoError(t, es.ReplaceAll(ctx, records(500, "NEW")))
	close(done)

	for n := range seen {
		assert.Contains(t, []int64{3, 500}, n)
	}
	n, err := es.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
}

func TestEnrollment_DueBeforeSkipsNullDates(t *testing.T) {
	ctx := context.Background()
	es := store.NewEnrollmentStore(openTestDB(t), zerolog.Nop())
	require.NoError(t, es.ReplaceAll(ctx, []models.EnrollmentRecord{
		{IdentityCode: "PAST", AutoshipDate: date(2023, 1, 1)},
		{IdentityCode: "TODAY", AutoshipDate: date(2024, 1, 1)},
		{IdentityCode: "FUTURE", AutoshipDate: date(2024, 6, 1)},
		{IdentityCode: "UNKNOWN"},
	}))

	due, err := es.DueBefore(ctx, *date(2024, 1, 1))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "PAST", due[0].IdentityCode)
}

func TestChats_AddAndMigrate(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	cs := store.NewChatStore(conn, zerolog.Nop())
	rs := store.NewRosterStore(conn, zerolog.Nop())

	require.NoError(t, cs.AddChat(ctx, -1, "Group", "group"))
	require.NoError(t, cs.AddChat(ctx, -1, "Renamed", "group"))
	c, err := cs.Get(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Name)

	_, err = rs.UpsertMember(ctx, 9, store.MemberUpdate{ChatID: i64(-1)})
	require.NoError(t, err)

	require.NoError(t, cs.UpdateChatID(ctx, -1, -1001))
	_, err = cs.Get(ctx, -1)
	assert.ErrorIs(t, err, store.ErrChatNotFound)
	c, err = cs.Get(ctx, -1001)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Name)

	m, err := rs.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), *m.ChatID)
}

func TestCycles_Recent(t *testing.T) {
	ctx := context.Background()
	cs := store.NewCycleStore(openTestDB(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &models.CycleRun{ID: fmt.Sprintf("run-%d", i), StartedAt: base.Add(time.Duration(i) * time.Hour), Status: models.CycleRunning}
		require.NoError(t, cs.Start(ctx, run))
		run.Status = models.CycleSucceeded
		require.NoError(t, cs.Finish(ctx, run))
	}

	runs, err := cs.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, models.CycleSucceeded, runs[0].Status)
}
