package users

import "testing"

func TestNormalizeHandle(t *testing.T) {
	tests := map[string]string{
		"@Alisher":   "alisher",
		"  bob_99 ":  "bob_99",
		"@@x":        "@x",
		"":           "",
		"@MUROD.dev": "murod.dev",
	}
	for in, want := range tests {
		if got := NormalizeHandle(in); got != want {
			t.Errorf("NormalizeHandle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidHandle(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"@alisher", true},
		{"bob_99", true},
		{"ab", false},
		{"two words", false},
		{"@", false},
	}
	for _, tt := range tests {
		if got := ValidHandle(tt.in); got != tt.want {
			t.Errorf("ValidHandle(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := (User{Handle: "ali"}).Label(); got != "@ali" {
		t.Errorf("Label() = %q", got)
	}
	if got := (User{DisplayName: "Ali", Handle: "ali"}).Label(); got != "Ali" {
		t.Errorf("Label() = %q", got)
	}
}
