package postgres

const queryFetchEvents = `
SELECT
    v.email AS vsl_email,
    v.id AS vessel_id,
    v.name AS vessel,
    j.id AS job_id,
    j.importance,
    j.title,
    j.dispensation_type,
    j.department,
    j.due_date,
    j.requested_on,
    j.created_at,
    j.status
FROM flag_dispensation_jobs j
JOIN vessels v ON v.id = j.vessel_id
WHERE j.status = $2
  AND j.created_at >= NOW() - make_interval(days => $1)
ORDER BY j.created_at ASC, j.id ASC
`

const querySeenKeys = `
SELECT key FROM notified_keys WHERE key = ANY($1)
`

const queryRecordKeys = `
INSERT INTO notified_keys (key, recorded_at)
SELECT k, $2 FROM unnest($1::text[]) AS k
ON CONFLICT (key) DO NOTHING
`

const queryPruneKeys = `
DELETE FROM notified_keys
WHERE key IN (
    SELECT key FROM notified_keys
    WHERE recorded_at < $1
    ORDER BY recorded_at ASC
    LIMIT $2
)
`

const queryInsertRun = `
INSERT INTO runs (id, alert, started_at, finished_at, status, rows_fetched, rows_filtered, rows_deduped, jobs_built, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryListRuns = `
SELECT id, alert, started_at, finished_at, status, rows_fetched, rows_filtered, rows_deduped, jobs_built, error
FROM runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2
`

const queryInsertDeliveryAttempt = `
INSERT INTO delivery_attempts (id, job_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryInsertNotification = `
INSERT INTO notifications (id, job_id, alert, vessel_id, vessel_name, recipients, cc_recipients, row_count, subject, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryListNotifications = `
SELECT id, job_id, alert, vessel_id, vessel_name, recipients, cc_recipients, row_count, subject, sent_at
FROM notifications
ORDER BY sent_at DESC
LIMIT $1 OFFSET $2
`
