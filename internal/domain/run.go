package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunReport records one pipeline run.
type RunReport struct {
	ID    uuid.UUID
	Alert string

	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus

	RowsFetched  int
	RowsFiltered int
	RowsDeduped  int
	JobsBuilt    int

	Error string
}
