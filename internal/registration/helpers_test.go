package registration

import (
	"testing"
	"time"
)

func mustTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-01-30T22:00:00Z")
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}
