package memory

import (
	"strings"
	"testing"
	"time"
)

func TestTitleFromMessage(t *testing.T) {
	short := "How do goroutines work?"
	if got := TitleFromMessage(short); got != short {
		t.Errorf("short message should be kept, got %q", got)
	}

	long := strings.Repeat("a", 60)
	got := TitleFromMessage(long)
	if got != strings.Repeat("a", 50)+"..." {
		t.Errorf("unexpected title %q", got)
	}

	if got := TitleFromMessage("  spaced \n\n out  "); got != "spaced out" {
		t.Errorf("whitespace should collapse, got %q", got)
	}

	// Cut on runes, not bytes
	emoji := strings.Repeat("é", 55)
	if got := TitleFromMessage(emoji); got != strings.Repeat("é", 50)+"..." {
		t.Errorf("multi-byte cut wrong: %q", got)
	}
}

func TestDefaultTitle(t *testing.T) {
	ts := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	if got := DefaultTitle(ts); got != "New Chat 2025-03-09" {
		t.Errorf("got %q", got)
	}
}

func TestTail(t *testing.T) {
	msgs := make([]Message, 5)
	for i := range msgs {
		msgs[i].Content = string(rune('a' + i))
	}
	if got := Tail(msgs, 3); len(got) != 3 || got[0].Content != "c" || got[2].Content != "e" {
		t.Errorf("unexpected tail: %+v", got)
	}
	if got := Tail(msgs, 0); len(got) != 5 {
		t.Errorf("limit 0 keeps all, got %d", len(got))
	}
	if got := Tail(msgs, 10); len(got) != 5 {
		t.Errorf("limit above len keeps all, got %d", len(got))
	}
}

func TestValidRole(t *testing.T) {
	if !ValidRole(RoleUser) || !ValidRole(RoleAssistant) {
		t.Error("user and assistant must be valid")
	}
	if ValidRole("system") || ValidRole("") {
		t.Error("only user and assistant are persisted")
	}
}

func TestPreferencesUpdateApply(t *testing.T) {
	base := DefaultPreferences("u1")
	if base.Theme != DefaultTheme || base.Language != DefaultLanguage || base.DefaultModel != "" {
		t.Fatalf("unexpected defaults: %+v", base)
	}

	model := "hosted"
	got := PreferencesUpdate{DefaultModel: &model}.Apply(base)
	if got.DefaultModel != "hosted" || got.Theme != DefaultTheme || got.Language != DefaultLanguage {
		t.Fatalf("partial update changed other fields: %+v", got)
	}

	theme := "light"
	got = PreferencesUpdate{Theme: &theme}.Apply(got)
	if got.DefaultModel != "hosted" || got.Theme != "light" {
		t.Fatalf("second update lost the model: %+v", got)
	}
}
