package scheduler

import (
	"testing"
	"time"
)

func TestDailyMatchesOnlyAtConfiguredTime(t *testing.T) {
	p := Daily(2, 0)
	hit := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	miss := time.Date(2026, 7, 31, 2, 1, 0, 0, time.UTC)
	if !p.Matches(hit) {
		t.Fatalf("expected match at 02:00")
	}
	if p.Matches(miss) {
		t.Fatalf("expected no match at 02:01")
	}
}

func TestWeeklyMatchesOnlyOnConfiguredDay(t *testing.T) {
	p := Weekly(0, 4, 0) // Sunday 04:00
	sunday := time.Date(2026, 8, 2, 4, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 8, 3, 4, 0, 0, 0, time.UTC)
	if sunday.Weekday() != time.Sunday {
		t.Fatalf("test fixture date is not a Sunday")
	}
	if !p.Matches(sunday) {
		t.Fatalf("expected match on Sunday 04:00")
	}
	if p.Matches(monday) {
		t.Fatalf("expected no match on Monday 04:00")
	}
}

func TestEveryMinuteMatchesAnyTime(t *testing.T) {
	p := EveryMinute()
	if !p.Matches(time.Date(2026, 1, 1, 13, 37, 0, 0, time.UTC)) {
		t.Fatalf("expected every-minute predicate to match any time")
	}
}

func TestParsePredicateWildcardsAndExactFields(t *testing.T) {
	p, err := ParsePredicate("0 2 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p != Daily(2, 0) {
		t.Fatalf("parsed predicate %+v does not equal Daily(2, 0) %+v", p, Daily(2, 0))
	}
}

func TestParsePredicateRejectsWrongFieldCount(t *testing.T) {
	if _, err := ParsePredicate("0 2 * *"); err == nil {
		t.Fatalf("expected error for 4-field expression")
	}
}

func TestParsePredicateRejectsNonNumericField(t *testing.T) {
	if _, err := ParsePredicate("banana 2 * * *"); err == nil {
		t.Fatalf("expected error for non-numeric field")
	}
}
