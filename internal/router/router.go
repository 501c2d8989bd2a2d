// Package router groups filtered event rows by destination vessel and
// resolves the recipients for each group.
package router

import (
	"fmt"
	"log"
	"strings"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
	"github.com/prominencemaritime/flag-dispensations/internal/routing"
)

// ErrInconsistentGroup is returned when rows sharing a destination
// email and vessel name disagree on vessel_id. That is a data-integrity
// problem to surface, not to resolve silently.
var ErrInconsistentGroup = fmt.Errorf("router: group rows disagree on vessel_id")

// LinkConfig controls per-row URL generation.
type LinkConfig struct {
	Enabled bool
	BaseURL string
	URLPath string
}

// Group is one destination vessel with its rows and resolved recipients.
type Group struct {
	VesselEmail string
	VesselName  string
	VesselID    string
	CompanyName string

	CCRecipients []string
	Rows         []domain.EventRow
}

type Router struct {
	table routing.Table
	links LinkConfig
}

func New(table routing.Table, links LinkConfig) *Router {
	return &Router{table: table, links: links}
}

// Route groups rows by (vessel_email, vessel_name). Groups appear in
// first-appearance order; row order within a group is preserved from
// the input. Input rows are never mutated: link attachment copies.
func (r *Router) Route(rows []domain.EventRow) ([]Group, error) {
	type groupKey struct {
		email string
		name  string
	}

	var order []groupKey
	grouped := make(map[groupKey][]domain.EventRow)

	for _, row := range rows {
		key := groupKey{email: row.VesselEmail, name: row.VesselName}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}

		out := row
		if r.links.Enabled {
			url := r.buildLink(row.EventID)
			out.LinkURL = &url
		}
		grouped[key] = append(grouped[key], out)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		groupRows := grouped[key]

		vesselID := groupRows[0].VesselID
		for _, row := range groupRows {
			if row.VesselID != vesselID {
				return nil, fmt.Errorf("%w: vessel=%q ids %q and %q",
					ErrInconsistentGroup, key.name, vesselID, row.VesselID)
			}
		}

		cc := r.table.ResolveCC(key.email)
		group := Group{
			VesselEmail:  key.email,
			VesselName:   key.name,
			VesselID:     vesselID,
			CompanyName:  r.table.CompanyName(key.email),
			CCRecipients: cc,
			Rows:         groupRows,
		}
		groups = append(groups, group)

		log.Printf("router: grouped %d row(s) for vessel %q -> %s (cc: %d)",
			len(groupRows), key.name, key.email, len(cc))
	}

	return groups, nil
}

// buildLink joins the configured base URL, path segment, and event id.
func (r *Router) buildLink(eventID string) string {
	base := strings.TrimRight(r.links.BaseURL, "/")
	path := strings.TrimRight(r.links.URLPath, "/")
	return base + path + "/" + eventID
}
