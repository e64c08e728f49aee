package merchant

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)
	cases := []struct {
		raw  string
		want string
	}{
		{"NETFLIX.COM 866-579-7172", "netflix"},
		{"Netflix.com", "netflix"},
		{"SPOTIFY P2D4A83F41 Stockholm", "spotify stockholm"},
		{"POS 1234567 AMAZON PRIME", "amazon prime"},
		{"  Spotify   AB  ", "spotify"},
		{"", ""},
		{"12345 67890", ""},
	}
	for i, tc := range cases {
		got := string(n.Normalize(tc.raw))
		if got != tc.want {
			t.Errorf("case %d: Normalize(%q) = %q, want %q", i, tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer(nil)
	inputs := []string{
		"NETFLIX.COM 866-579-7172",
		"SPOTIFY P2D4A83F41 Stockholm",
		"Disney Plus Recurring Payment",
		"already normalized text",
	}
	for _, raw := range inputs {
		once := n.Normalize(raw)
		twice := n.Normalize(string(once))
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n := NewNormalizer(nil)
	a := n.Normalize("HBO Max 555123 NYC")
	b := n.Normalize("HBO Max 555123 NYC")
	if a != b {
		t.Errorf("same input produced different keys: %q vs %q", a, b)
	}
}

func TestNormalizeExtraStripTokens(t *testing.T) {
	n := NewNormalizer([]string{"stockholm", "nyc"})
	if got := n.Normalize("SPOTIFY Stockholm"); got != "spotify" {
		t.Errorf("got %q, want %q", got, "spotify")
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strip.yaml")
	content := "strip:\n  - stockholm\n  - oslo\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	if got := n.Normalize("SPOTIFY Stockholm"); got != "spotify" {
		t.Errorf("got %q, want %q", got, "spotify")
	}

	// Empty path falls back to defaults.
	n, err = NewFromFile("")
	if err != nil {
		t.Fatalf("NewFromFile empty path: %v", err)
	}
	if got := n.Normalize("Netflix.com"); got != "netflix" {
		t.Errorf("got %q, want %q", got, "netflix")
	}

	// Missing file is an error.
	if _, err := NewFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDisplayName(t *testing.T) {
	n := NewNormalizer(nil)
	cases := []struct {
		raw  string
		want string
	}{
		{"NETFLIX.COM 866-579-7172", "Netflixcom"},
		{"spotify ab", "Spotify"},
		{"123 Disney", "Disney"},
	}
	for i, tc := range cases {
		if got := n.DisplayName(tc.raw); got != tc.want {
			t.Errorf("case %d: DisplayName(%q) = %q, want %q", i, tc.raw, got, tc.want)
		}
	}
}
