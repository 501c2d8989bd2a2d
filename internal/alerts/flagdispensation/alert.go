// Package flagdispensation implements the flag extension/dispensation
// request alert on top of the shared pipeline.
package flagdispensation

import (
	"fmt"
	"strings"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// Alert carries the flag-dispensations specialization: query identity,
// required columns, and display rules.
type Alert struct {
	subjectPrefix string
}

func New(subjectPrefix string) *Alert {
	return &Alert{subjectPrefix: subjectPrefix}
}

func (a *Alert) Name() string {
	return "flag_dispensations"
}

func (a *Alert) Title() string {
	return "Flag Dispensations"
}

// RequiredColumns lists the columns the source query must return.
func (a *Alert) RequiredColumns() []string {
	return []string{
		"vsl_email",
		"vessel_id",
		"vessel",
		"job_id",
		"importance",
		"title",
		"dispensation_type",
		"department",
		"due_date",
		"requested_on",
		"created_at",
		"status",
	}
}

// DisplayColumns determines which columns appear in the outbound
// message and in what order. It selects for rendering, not filtering.
func (a *Alert) DisplayColumns() []string {
	return []string{
		"title",
		"dispensation_type",
		"department",
		"requested_on",
		"due_date",
		"created_at",
	}
}

// Subject builds the message subject from metadata alone; row content
// never feeds into it.
func (a *Alert) Subject(meta domain.JobMetadata) string {
	vessel := meta.VesselName
	if vessel == "" {
		vessel = "Vessel"
	}
	return fmt.Sprintf("%s | %s Flag Extensions-Dispensations",
		a.subjectPrefix, strings.ToUpper(vessel))
}
