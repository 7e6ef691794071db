package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "cycle", "import-members", "migrate"})
}

func TestReadMemberEvents(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "members.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"user_id": 1, "display_name": "Ann_E100"}]`), 0o600))

	evs, err := readMemberEvents(good)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "Ann_E100", *evs[0].DisplayName)
	assert.Nil(t, evs[0].ChatID)

	missingID := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(missingID, []byte(`[{"display_name": "x"}]`), 0o600))
	_, err = readMemberEvents(missingID)
	assert.ErrorContains(t, err, "no user_id")

	_, err = readMemberEvents(filepath.Join(dir, "nope.json"))
	assert.Error(t, err)
}

func TestImportAndCycleCommands(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(feedPath, []byte(
		"Id,Level,First Name,Last Name,Status,Customer Type,Autoship Date,Binary Leg,Active Kit order\n"+
			"E100,3,Ann,Lee,Yes,Retail,2023-01-01,Left,No\n"), 0o600))
	members := filepath.Join(dir, "members.json")
	require.NoError(t, os.WriteFile(members, []byte(`[{"user_id": 1, "display_name": "Ann_E100"}, {"user_id": 2, "display_name": "Bob"}]`), 0o600))

	os.Clearenv()
	t.Setenv("DATABASE_URL", filepath.Join(dir, "test.db"))
	t.Setenv("FEED_PATH", feedPath)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "disabled")
	envFile := filepath.Join(dir, "none.env")

	run := func(args ...string) string {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"--env-file", envFile}, args...))
		require.NoError(t, root.Execute())
		return out.String()
	}

	assert.Contains(t, run("import-members", members), "upserted 2 members")
	out := run("cycle")
	assert.Contains(t, out, `"cycle_id"`)
	assert.Contains(t, out, `"display_name": "Bob"`)
	assert.Contains(t, out, `"identity_code": "E100"`)
}

func TestStartWorkers_StopWaitsForWorkers(t *testing.T) {
	var finished atomic.Int32
	slow := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
	}

	stop := startWorkers(context.Background(), slow, slow)
	stop()
	assert.Equal(t, int32(2), finished.Load())
}

func TestStartWorkers_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	stop := startWorkers(ctx, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not see the parent cancel")
	}
	stop()
}
