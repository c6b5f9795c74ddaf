package phone

import "testing"

func TestE164(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2072103282", "+12072103282"},
		{"(207) 210-3282", "+12072103282"},
		{"1-207-210-3282", "+12072103282"},
		{"+1 207 210 3282", "+12072103282"},
	}
	for _, tt := range tests {
		got, err := E164(tt.in)
		if err != nil {
			t.Fatalf("E164(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("E164(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestE164Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12"} {
		if _, err := E164(in); err == nil {
			t.Fatalf("E164(%q): expected error", in)
		}
	}
}

func TestHashDigits(t *testing.T) {
	if got := HashDigits("(207) 210-3282"); got != "12072103282" {
		t.Fatalf("expected 12072103282, got %q", got)
	}
}
