package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/remind-lab/remindd/internal/api/v1"
	"github.com/remind-lab/remindd/internal/core/storage"
	"github.com/stretchr/testify/require"
)

const testLease = 5 * time.Minute

func TestAdapter_Insert(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		event      *v1.Event
		mockResult func(mock sqlmock.Sqlmock, event *v1.Event)
		assertions func(t *testing.T, id string, err error)
	}{
		{
			name:  "success returns id",
			event: v1.NewEvent("user-1", "Dentist", "check-up", "cat-health", now.Add(24*time.Hour), 30*time.Minute, now),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.Event) {
				mock.ExpectQuery(regexp.QuoteMeta(queryInsertEvent)).
					WithArgs(
						event.ID,
						event.OwnerID,
						event.Title,
						event.Description,
						sqlmock.AnyArg(),
						event.EventTime,
						event.RemindAt,
						event.CreatedAt,
					).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(event.ID))
			},
			assertions: func(t *testing.T, id string, err error) {
				require.NoError(t, err)
				require.NotEmpty(t, id)
			},
		},
		{
			name:  "duplicate maps to ErrDuplicate",
			event: v1.NewEvent("user-1", "Dentist", "", "", now.Add(24*time.Hour), 30*time.Minute, now),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.Event) {
				mock.ExpectQuery(regexp.QuoteMeta(queryInsertEvent)).
					WithArgs(
						event.ID,
						event.OwnerID,
						event.Title,
						event.Description,
						sqlmock.AnyArg(),
						event.EventTime,
						event.RemindAt,
						event.CreatedAt,
					).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			assertions: func(t *testing.T, id string, err error) {
				require.ErrorIs(t, err, storage.ErrDuplicate)
				require.Empty(t, id)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.mockResult(mock, tc.event)

			id, err := adapter.Insert(context.Background(), tc.event)
			tc.assertions(t, id, err)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_FindDue(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2025, 6, 15, 14, 0, 1, 0, time.UTC)
	remindAt := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	eventTime := remindAt.Add(30 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindDue)).
		WithArgs(now, now.Add(-testLease), 50).
		WillReturnRows(sqlmock.NewRows(eventRowColumns()).
			AddRow(
				"evt-1", "user-1", "Dentist", "check-up", "cat-health",
				eventTime, remindAt, remindAt.Add(-time.Hour),
				"pending", nil, nil, nil,
				0, nil, nil,
			).
			AddRow(
				"evt-2", "user-2", "Call", "", nil,
				eventTime.Add(time.Minute), remindAt.Add(time.Minute), remindAt.Add(-time.Hour),
				"failed", nil, nil, nil,
				2, "connection refused", remindAt.Add(30*time.Second),
			),
		).RowsWillBeClosed()

	events, err := adapter.FindDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "evt-1", events[0].ID)
	require.Equal(t, v1.StatusPending, events[0].Delivery.Status)
	require.Equal(t, "cat-health", events[0].CategoryID)

	require.Equal(t, "evt-2", events[1].ID)
	require.Equal(t, v1.StatusFailed, events[1].Delivery.Status)
	require.Equal(t, 2, events[1].Delivery.Attempts)
	require.Equal(t, "connection refused", events[1].Delivery.LastError)
	require.Empty(t, events[1].CategoryID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_TryClaim(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 1, 0, time.UTC)

	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{"wins the race", 1, true},
		{"loses the race", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(queryTryClaim)).
				WithArgs("evt-1", "worker-a", now, now.Add(-testLease)).
				WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))

			got, err := adapter.TryClaim(context.Background(), "evt-1", "worker-a", now)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_MarkDelivered(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 2, 0, time.UTC)

	t.Run("claimed or delivered row updates", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryMarkDelivered)).
			WithArgs("evt-1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.MarkDelivered(context.Background(), "evt-1", now))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id maps to ErrNotFound", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryMarkDelivered)).
			WithArgs("evt-missing", now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := adapter.MarkDelivered(context.Background(), "evt-missing", now)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_MarkFailed(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 2, 0, time.UTC)

	t.Run("retryable failure writes next retry time", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		next := now.Add(time.Minute)
		mock.ExpectExec(regexp.QuoteMeta(queryMarkFailed)).
			WithArgs("evt-1", "send timeout", sql.NullTime{Time: next, Valid: true}).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.MarkFailed(context.Background(), "evt-1", "send timeout", now, next))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal failure writes NULL sentinel", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryMarkFailed)).
			WithArgs("evt-1", "send timeout", sql.NullTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.MarkFailed(context.Background(), "evt-1", "send timeout", now, time.Time{}))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_StatsForPeriod(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryCountForPeriod)).
		WithArgs("user-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(queryTopCategoryForPeriod)).
		WithArgs("user-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "cnt"}).AddRow("cat-work", 4))

	stats, err := adapter.StatsForPeriod(context.Background(), "user-1", from, to)
	require.NoError(t, err)
	require.Equal(t, 7, stats.EventCount)
	require.Equal(t, "cat-work", stats.TopCategoryID)
	require.Equal(t, 4, stats.TopCategoryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_StatsForPeriod_NoCategories(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryCountForPeriod)).
		WithArgs("user-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(queryTopCategoryForPeriod)).
		WithArgs("user-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "cnt"}))

	stats, err := adapter.StatsForPeriod(context.Background(), "user-1", from, to)
	require.NoError(t, err)
	require.Equal(t, 0, stats.EventCount)
	require.Empty(t, stats.TopCategoryID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	adapter, mock, _ := newMockAdapter(t)

	dbCloseErr := errors.New("db close failed")
	mock.ExpectClose().WillReturnError(dbCloseErr)

	err := adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                db,
		lease:             testLease,
		stmtInsert:        mustPrepareStmt(t, db, mock, queryInsertEvent),
		stmtFindDue:       mustPrepareStmt(t, db, mock, queryFindDue),
		stmtTryClaim:      mustPrepareStmt(t, db, mock, queryTryClaim),
		stmtMarkDelivered: mustPrepareStmt(t, db, mock, queryMarkDelivered),
		stmtMarkFailed:    mustPrepareStmt(t, db, mock, queryMarkFailed),
		stmtListUpcoming:  mustPrepareStmt(t, db, mock, queryListUpcoming),
		stmtCountPeriod:   mustPrepareStmt(t, db, mock, queryCountForPeriod),
		stmtTopCategory:   mustPrepareStmt(t, db, mock, queryTopCategoryForPeriod),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func eventRowColumns() []string {
	return []string{
		"id",
		"owner_id",
		"title",
		"description",
		"category_id",
		"event_time",
		"remind_at",
		"created_at",
		"status",
		"claimant",
		"claimed_at",
		"delivered_at",
		"attempts",
		"last_error",
		"next_retry_at",
	}
}
