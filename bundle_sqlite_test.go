package reportflow

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	workerpkg "github.com/petrijr/reportflow/pkg/worker"
)

func TestSQLiteBundle_QueuedSignalSurvivesRestart(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "bundle.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	def := approvalPipeline().MustBuild()
	ctx := context.Background()

	first, err := NewSQLiteBundle(db, def, approvalActivities(), workerpkg.Config{MaxAttempts: 3})
	require.NoError(t, err)

	id, err := first.Client.Start(ctx, StartInput{CycleID: 5, ReportID: 6, UserID: 7})
	require.NoError(t, err)
	require.NoError(t, first.Worker.EnqueueSignal(ctx, id, "approve", approvalPayload()))
	require.Equal(t, 1, first.queue.Len())
	require.NoError(t, first.Client.Close())

	second, err := NewSQLiteBundle(db, def, approvalActivities(), workerpkg.Config{MaxAttempts: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Client.Close() })

	n, err := second.Client.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go second.Run(runCtx)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := second.Client.Wait(waitCtx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, 0, second.queue.Len())
}
