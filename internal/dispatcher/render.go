package dispatcher

import (
	"fmt"
	"strings"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// columnValue maps a display column name to the row field it renders.
func columnValue(row domain.EventRow, column string) string {
	switch column {
	case "vsl_email":
		return row.VesselEmail
	case "vessel_id":
		return row.VesselID
	case "vessel":
		return row.VesselName
	case "job_id":
		return row.EventID
	case "importance":
		return row.Importance
	case "title":
		return row.Title
	case "dispensation_type":
		return row.Category
	case "department":
		return row.Department
	case "due_date":
		return row.DueDate
	case "requested_on":
		return row.RequestedOn
	case "created_at":
		return row.CreatedAtDisplay
	case "status":
		return row.Status
	default:
		return ""
	}
}

// rowValues renders a row as display-column -> value pairs. The url
// entry appears only when link generation populated the row.
func rowValues(row domain.EventRow, displayColumns []string) map[string]string {
	values := make(map[string]string, len(displayColumns)+1)
	for _, col := range displayColumns {
		values[col] = columnValue(row, col)
	}
	if row.LinkURL != nil {
		values["url"] = *row.LinkURL
	}
	return values
}

// renderTextBody produces the plain-text message body for SMTP delivery.
func renderTextBody(job domain.NotificationJob) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s | %s\n", job.Metadata.AlertTitle, job.Metadata.CompanyName)
	fmt.Fprintf(&b, "Vessel: %s\n\n", job.Metadata.VesselName)

	for i, row := range job.Rows {
		fmt.Fprintf(&b, "%d.\n", i+1)
		for _, col := range job.Metadata.DisplayColumns {
			fmt.Fprintf(&b, "  %s: %s\n", col, columnValue(row, col))
		}
		if row.LinkURL != nil {
			fmt.Fprintf(&b, "  url: %s\n", *row.LinkURL)
		}
		b.WriteString("\n")
	}

	return b.String()
}
