package phone

import "testing"

func TestNormalizeExamples(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"3331234567", "+393331234567"},
		{"0039 333 1234567", "+393331234567"},
		{"+1 415 555 0100", "+14155550100"},
		{"123", ""},
		{"", ""},
		{"   ", ""},
		{"393331234567", "+393331234567"},
		{"+39 333-123-4567", "+393331234567"},
		{"(333) 123 4567", "+393331234567"},
		{"0612345678", ""},
		{"+12", ""},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"3331234567",
		"0039 333 1234567",
		"+1 415 555 0100",
		"+44 20 7946 0958",
		"393331234567",
		"14155550100",
		"+39 06 1234 5678",
	}

	for _, in := range inputs {
		once := Normalize(in)
		if once == "" {
			t.Fatalf("expected %q to be valid", in)
		}
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestNormalizerUsesConfiguredCountry(t *testing.T) {
	n := NewNormalizer("+34", "67")

	if got := n.Normalize("612345678 0"); got != "+346123456780" {
		t.Fatalf("unexpected spanish mobile normalization %q", got)
	}
	if n.IsValid("12345") {
		t.Fatal("short number must be invalid")
	}
}
