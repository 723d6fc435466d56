package store

import (
	"errors"
	"testing"
	"time"
)

func setupSettingsTestDB(t *testing.T) *SettingsStore {
	t.Helper()
	return NewSettingsStore(openTestDB(t))
}

func TestSettingsLoadEmpty(t *testing.T) {
	ss := setupSettingsTestDB(t)

	rec, err := ss.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record before bootstrap, got %+v", rec)
	}
}

func TestSettingsCreateIfAbsentIsIdempotent(t *testing.T) {
	ss := setupSettingsTestDB(t)

	first, err := ss.CreateIfAbsent("id-1", []byte(`{"a":1}`), time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.SettingsID != "id-1" || first.Revision != 1 {
		t.Errorf("record = %+v, want id-1 at revision 1", first)
	}

	second, err := ss.CreateIfAbsent("id-2", []byte(`{"a":2}`), time.Now())
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.SettingsID != "id-1" {
		t.Errorf("settings_id = %q, want %q", second.SettingsID, "id-1")
	}
	if string(second.Document) != `{"a":1}` {
		t.Errorf("document = %s, want original", second.Document)
	}

	var count int
	ss.db.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 settings row, got %d", count)
	}
}

func TestSettingsSaveArchivesPrevious(t *testing.T) {
	ss := setupSettingsTestDB(t)

	ss.CreateIfAbsent("id-1", []byte(`{"v":1}`), time.Now())

	rev, err := ss.Save("id-1", []byte(`{"v":2}`), 1)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}

	rec, _ := ss.Load()
	if string(rec.Document) != `{"v":2}` {
		t.Errorf("document = %s, want {\"v\":2}", rec.Document)
	}

	history, err := ss.History("id-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if string(history[0].Document) != `{"v":1}` {
		t.Errorf("history[0] = %s, want {\"v\":1}", history[0].Document)
	}
}

func TestSettingsSaveConflict(t *testing.T) {
	ss := setupSettingsTestDB(t)

	ss.CreateIfAbsent("id-1", []byte(`{"v":1}`), time.Now())
	if _, err := ss.Save("id-1", []byte(`{"v":2}`), 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A second writer still holding revision 1 must be rejected
	_, err := ss.Save("id-1", []byte(`{"v":3}`), 1)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	rec, _ := ss.Load()
	if string(rec.Document) != `{"v":2}` {
		t.Errorf("document = %s, want {\"v\":2}", rec.Document)
	}
}

func TestSettingsHistoryNewestFirst(t *testing.T) {
	ss := setupSettingsTestDB(t)

	ss.CreateIfAbsent("id-1", []byte(`{"v":1}`), time.Now())
	ss.Save("id-1", []byte(`{"v":2}`), 1)
	ss.Save("id-1", []byte(`{"v":3}`), 2)

	history, err := ss.History("id-1", 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if string(history[0].Document) != `{"v":2}` {
		t.Errorf("history[0] = %s, want {\"v\":2}", history[0].Document)
	}
}
