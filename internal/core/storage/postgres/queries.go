package postgres

// SQL queries for the relational reminder store.
//
// Eligibility for claiming is one predicate reused by both the scan and the
// claim: pending and due, failed with an elapsed retry time, or claimed with
// an expired lease. $-placeholders carry (now, lease cutoff) computed by the
// adapter so the predicate stays identical across both statements.

const (
	eventColumns = `
		id, owner_id, title, description, category_id,
		event_time, remind_at, created_at,
		status, claimant, claimed_at, delivered_at,
		attempts, last_error, next_retry_at`

	// queryInsertEvent inserts a pending event.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	queryInsertEvent = `
		INSERT INTO events (
			id, owner_id, title, description, category_id,
			event_time, remind_at, created_at, status, attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`

	// queryFindDue fetches claimable events, earliest reminder first.
	// $1 = now, $2 = now - claim lease, $3 = limit.
	queryFindDue = `
		SELECT ` + eventColumns + `
		FROM events
		WHERE (status = 'pending' AND remind_at <= $1)
		   OR (status = 'claimed' AND claimed_at <= $2)
		   OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
		ORDER BY remind_at ASC
		LIMIT $3
	`

	// queryTryClaim is the single atomic conditional update deciding the
	// claim race: the eligibility predicate lives in the WHERE clause and
	// RowsAffected tells the caller whether it won.
	// $1 = id, $2 = claimant, $3 = now, $4 = now - claim lease.
	queryTryClaim = `
		UPDATE events
		SET status = 'claimed',
		    claimant = $2,
		    claimed_at = $3
		WHERE id = $1
		  AND (
		       (status = 'pending' AND remind_at <= $3)
		    OR (status = 'claimed' AND claimed_at <= $4)
		    OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $3)
		  )
	`

	// queryMarkDelivered finalizes a claimed event. Matching on delivered
	// as well keeps the operation idempotent; COALESCE preserves the
	// original delivery timestamp on repeat calls.
	queryMarkDelivered = `
		UPDATE events
		SET status = 'delivered',
		    delivered_at = COALESCE(delivered_at, $2),
		    claimant = NULL,
		    claimed_at = NULL
		WHERE id = $1
		  AND status IN ('claimed', 'delivered')
	`

	// queryMarkFailed records one more failed attempt. A NULL next_retry_at
	// is the "no further retry" sentinel; such rows never match
	// queryFindDue again.
	queryMarkFailed = `
		UPDATE events
		SET status = 'failed',
		    attempts = attempts + 1,
		    last_error = $2,
		    next_retry_at = $3,
		    claimant = NULL,
		    claimed_at = NULL
		WHERE id = $1
		  AND status = 'claimed'
	`

	// queryListUpcoming lists an owner's undelivered future events.
	queryListUpcoming = `
		SELECT ` + eventColumns + `
		FROM events
		WHERE owner_id = $1
		  AND event_time >= $2
		  AND status <> 'delivered'
		ORDER BY event_time ASC
	`

	// queryCountForPeriod counts an owner's events created in [from, to).
	queryCountForPeriod = `
		SELECT COUNT(*)
		FROM events
		WHERE owner_id = $1
		  AND created_at >= $2
		  AND created_at < $3
	`

	// queryTopCategoryForPeriod finds the most frequent category reference
	// in the window. Ties break on category_id so results are deterministic.
	queryTopCategoryForPeriod = `
		SELECT category_id, COUNT(*) AS cnt
		FROM events
		WHERE owner_id = $1
		  AND created_at >= $2
		  AND created_at < $3
		  AND category_id IS NOT NULL
		GROUP BY category_id
		ORDER BY cnt DESC, category_id ASC
		LIMIT 1
	`
)
