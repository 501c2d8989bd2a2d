package pipeline

import (
	"github.com/google/uuid"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/router"
	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
)

// buildJobs wraps routed groups into final notification jobs. One job
// per group, created once per run, immutable afterwards.
func buildJobs(alert Alert, groups []router.Group) ([]domain.NotificationJob, error) {
	jobs := make([]domain.NotificationJob, 0, len(groups))
	for _, group := range groups {
		meta := domain.JobMetadata{
			VesselID:       group.VesselID,
			VesselName:     group.VesselName,
			AlertTitle:     alert.Title(),
			CompanyName:    group.CompanyName,
			DisplayColumns: alert.DisplayColumns(),
		}
		meta.Subject = alert.Subject(meta)

		keys, err := tracking.Keys(group.Rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, domain.NotificationJob{
			ID:           uuid.New(),
			Recipients:   []string{group.VesselEmail},
			CCRecipients: group.CCRecipients,
			Rows:         group.Rows,
			Metadata:     meta,
			TrackingKeys: keys,
		})
	}
	return jobs, nil
}
