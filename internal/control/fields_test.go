package control

import "testing"

func TestRequireStringMissingField(t *testing.T) {
	req := map[string]any{"name": "alice"}
	if _, err := requireString(req, "username"); err == nil {
		t.Fatalf("expected error for missing field")
	}
	got, err := requireString(req, "name")
	if err != nil || got != "alice" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRequireInt32FromJSONNumber(t *testing.T) {
	req := map[string]any{"chat_id": float64(-42)}
	got, err := requireInt32(req, "chat_id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -42 {
		t.Fatalf("got %d, want -42", got)
	}
}

func TestOptInt32AbsentReturnsNil(t *testing.T) {
	req := map[string]any{}
	if got := optInt32(req, "reply_to"); got != nil {
		t.Fatalf("expected nil for absent field, got %v", got)
	}
}

func TestOptStringSliceFiltersNonStrings(t *testing.T) {
	req := map[string]any{"sha256_hashes": []any{"abc", 5, "def"}}
	got := optStringSlice(req, "sha256_hashes")
	if len(got) != 2 || got[0] != "abc" || got[1] != "def" {
		t.Fatalf("got %v", got)
	}
}

func TestOptBoolReportsPresence(t *testing.T) {
	req := map[string]any{"is_unread": false}
	v, ok := optBool(req, "is_unread")
	if !ok || v != false {
		t.Fatalf("expected present=true, value=false, got %v, %v", v, ok)
	}
	if _, ok := optBool(req, "missing"); ok {
		t.Fatalf("expected present=false for missing key")
	}
}
