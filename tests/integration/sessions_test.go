//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

func TestListSessions(t *testing.T) {
	resp := doGet(t, "/api/sessions")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	sessions := decodeJSON[[]sessionResponse](t, resp)
	if len(sessions) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(sessions))
	}

	byID := make(map[string]sessionResponse, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}

	goIntro, ok := byID["sess-go-101-oct"]
	if !ok {
		t.Fatal("session sess-go-101-oct not found")
	}
	if goIntro.Price != "490.00" {
		t.Errorf("price: got %q, want %q", goIntro.Price, "490.00")
	}
	if goIntro.SeatsLeft <= 0 {
		t.Errorf("seats_left: got %d, want > 0", goIntro.SeatsLeft)
	}
	if goIntro.FormationID == "" || goIntro.CategoryID == "" || goIntro.Title == "" {
		t.Errorf("incomplete session: %+v", goIntro)
	}
	if _, err := time.Parse(time.RFC3339, goIntro.StartsAt); err != nil {
		t.Errorf("starts_at not RFC3339: %q", goIntro.StartsAt)
	}
}

func TestListSessions_SortedByStart(t *testing.T) {
	resp := doGet(t, "/api/sessions")
	defer resp.Body.Close()

	sessions := decodeJSON[[]sessionResponse](t, resp)

	var prev time.Time
	for _, s := range sessions {
		startsAt, err := time.Parse(time.RFC3339, s.StartsAt)
		if err != nil {
			t.Fatalf("parse starts_at %q: %v", s.StartsAt, err)
		}
		if startsAt.Before(prev) {
			t.Fatalf("sessions not sorted by starts_at: %s before %s", s.ID, prev)
		}
		prev = startsAt
	}
}
