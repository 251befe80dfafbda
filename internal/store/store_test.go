package store

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tailscale.com/tsweb"

	"github.com/rania-fds/fds/internal/events"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fds.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTest(t)
	v, err := s.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fds.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev := events.NewFall(0, 1, time.Now())
	if err := s.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Errorf("after reopen got %+v", got)
	}
}

func TestPublish_RecentEvents(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var want []events.Event
	for i := 0; i < 5; i++ {
		ev := events.NewFall(0, i, base.Add(time.Duration(i)*time.Second))
		if err := s.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		want = append([]events.Event{ev}, want...)
	}
	// Duplicate delivery is ignored.
	if err := s.Publish(ctx, want[0]); err != nil {
		t.Fatalf("duplicate Publish: %v", err)
	}

	got, err := s.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:3], got); diff != "" {
		t.Errorf("RecentEvents mismatch (-want +got):\n%s", diff)
	}

	all, err := s.RecentEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("RecentEvents(0) returned %d events, want 5", len(all))
	}
}

func TestPublish_Transitions(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		room     int
		from, to string
	}{
		{1, "NONE", "LOW"},
		{1, "LOW", "HIGH"},
		{2, "NONE", "LOW"},
		{1, "HIGH", "PAUSED"},
	}
	for i, st := range steps {
		ev := events.NewState(4, st.room, st.from, st.to, base.Add(time.Duration(i)*time.Second))
		if err := s.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Publish(ctx, events.NewFall(4, 1, base)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Transitions(ctx, 4, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	var pairs []string
	for _, tr := range got {
		pairs = append(pairs, tr.From+"->"+tr.To)
	}
	want := []string{"HIGH->PAUSED", "LOW->HIGH", "NONE->LOW"}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Errorf("Transitions mismatch (-want +got):\n%s", diff)
	}
	if !got[0].At.Equal(base.Add(3 * time.Second)) {
		t.Errorf("latest transition at %v", got[0].At)
	}

	other, err := s.Transitions(ctx, 3, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("domain 3 has %d transitions, want 0", len(other))
	}
}

func TestFallCount(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := s.Publish(ctx, events.NewFall(0, 1, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.FallCount(ctx, 0, 1, base.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("FallCount = %d, want 2", n)
	}
}

func TestAdminRoutes_Backup(t *testing.T) {
	s := openTest(t)
	if err := s.Publish(context.Background(), events.NewFall(0, 1, time.Now())); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	if err := s.AttachAdminRoutes(tsweb.Debugger(mux)); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	rec := httptest.NewRecorder()
	s.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status %d: %s", rec.Code, rec.Body.String())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 16 || string(data[:15]) != "SQLite format 3" {
		t.Errorf("backup does not look like a SQLite database")
	}
}
