package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/crosspost-dev/crosspost/internal/domain"
)

func newMockArchive(t *testing.T) (*HistoryArchive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestHistoryArchive_Append(t *testing.T) {
	archive, mock := newMockArchive(t)

	state := &domain.SyncState{
		SyncID:            "s1",
		Status:            domain.SyncStatusCompleted,
		Article:           &domain.Article{Title: "hello"},
		SelectedPlatforms: []string{"wordpress"},
		Results: []domain.SyncResult{
			{PlatformID: "wordpress", Success: true, PostID: "42"},
		},
		StartTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO sync_history`).
		WithArgs("s1", "completed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), state.StartTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, archive.Append(context.Background(), state))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryArchive_Recent(t *testing.T) {
	archive, mock := newMockArchive(t)

	article, _ := json.Marshal(&domain.Article{Title: "hello"})
	platforms, _ := json.Marshal([]string{"wordpress", "typecho"})
	results, _ := json.Marshal([]domain.SyncResult{
		{PlatformID: "wordpress", Success: true, PostID: "42"},
		{PlatformID: "typecho", Success: false, Error: "timeout"},
	})
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"sync_id", "status", "article", "platforms", "results", "start_time"}).
		AddRow("s1", "failed", article, platforms, results, started)

	mock.ExpectQuery(`SELECT sync_id, status, article, platforms, results, start_time`).
		WithArgs(10).
		WillReturnRows(rows)

	got, err := archive.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.SyncStatusFailed, got[0].Status)
	require.Equal(t, "hello", got[0].Article.Title)
	require.Len(t, got[0].Results, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
