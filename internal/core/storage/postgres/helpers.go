package postgres

import (
	"database/sql"
	"fmt"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event, folding the nullable
// delivery columns back into the tagged DeliveryState.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.Event, error) {
	var (
		evt         v1.Event
		status      string
		categoryID  sql.NullString
		claimant    sql.NullString
		claimedAt   sql.NullTime
		deliveredAt sql.NullTime
		lastError   sql.NullString
		nextRetryAt sql.NullTime
	)

	err := row.Scan(
		&evt.ID,
		&evt.OwnerID,
		&evt.Title,
		&evt.Description,
		&categoryID,
		&evt.EventTime,
		&evt.RemindAt,
		&evt.CreatedAt,
		&status,
		&claimant,
		&claimedAt,
		&deliveredAt,
		&evt.Delivery.Attempts,
		&lastError,
		&nextRetryAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	evt.CategoryID = categoryID.String
	evt.Delivery.Status = v1.DeliveryStatus(status)
	evt.Delivery.Claimant = claimant.String
	evt.Delivery.ClaimedAt = claimedAt.Time
	evt.Delivery.DeliveredAt = deliveredAt.Time
	evt.Delivery.LastError = lastError.String
	evt.Delivery.NextRetryAt = nextRetryAt.Time

	return &evt, nil
}

func collectEvents(rows *sql.Rows) ([]*v1.Event, error) {
	var events []*v1.Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
