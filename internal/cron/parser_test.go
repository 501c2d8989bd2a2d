package cron

import (
	"testing"
	"time"
)

func TestParseValidExpression(t *testing.T) {
	sched, err := Parse("*/15 * * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	after := time.Date(2026, 3, 10, 9, 7, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParseDescriptor(t *testing.T) {
	sched, err := Parse("@daily", "UTC")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	after := time.Date(2026, 3, 10, 9, 7, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParseRejectsInvalidExpression(t *testing.T) {
	for _, expr := range []string{
		"",
		"not a cron",
		"* * * *",
		"61 * * * *",
	} {
		if _, err := Parse(expr, "UTC"); err == nil {
			t.Errorf("Parse(%q) accepted", expr)
		}
	}
}

func TestParseRejectsUnknownTimezone(t *testing.T) {
	if _, err := Parse("0 9 * * *", "Mars/Olympus_Mons"); err == nil {
		t.Error("unknown timezone accepted")
	}
}

func TestNextEvaluatesInConfiguredZone(t *testing.T) {
	sched, err := Parse("0 9 * * *", "Europe/Athens")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	// 06:30 UTC is 08:30 in Athens (winter, UTC+2): the 09:00 Athens
	// slot is 07:00 UTC the same day.
	after := time.Date(2026, 1, 15, 6, 30, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want.In(next.Location()))
	}
}
