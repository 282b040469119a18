package control

import "testing"

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		username string
		wantErr  bool
	}{
		{"@abc", false},
		{"@abcd", false},
		{"abcd", true}, // missing @
		{"@" + string(make([]byte, 20)), true}, // too long
	}
	for _, c := range cases {
		err := validateUsername(c.username)
		if (err != nil) != c.wantErr {
			t.Errorf("validateUsername(%q): err=%v, wantErr=%v", c.username, err, c.wantErr)
		}
	}
}

func TestValidateUsernameLengthBoundary(t *testing.T) {
	if err := validateUsername("@abc"); err != nil {
		t.Fatalf("expected 4-char username (including @) to be valid, got %v", err)
	}
	if err := validateUsername("@ab"); err == nil {
		t.Fatalf("expected 3-char username to be rejected")
	}
}

func TestValidateName(t *testing.T) {
	if err := validateName(""); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
	if err := validateName("Alice"); err != nil {
		t.Fatalf("expected valid name to pass, got %v", err)
	}
}

func TestResponseMethodJoinDivergence(t *testing.T) {
	if got := responseMethod("join"); got != "join_group" {
		t.Fatalf("expected join to map to join_group, got %q", got)
	}
	if got := responseMethod("fetch"); got != "fetch" {
		t.Fatalf("expected fetch to pass through unchanged, got %q", got)
	}
}
