// Package cron turns cron expressions into timezone-aware schedules.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields run times in the configured zone.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Parse accepts a five-field cron expression or a descriptor such as
// @daily, evaluated in the given IANA zone.
func Parse(expression, timezone string) (Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	spec, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expression, err)
	}

	return zonedSchedule{spec: spec, loc: loc}, nil
}

type zonedSchedule struct {
	spec cron.Schedule
	loc  *time.Location
}

func (s zonedSchedule) Next(after time.Time) time.Time {
	return s.spec.Next(after.In(s.loc))
}
