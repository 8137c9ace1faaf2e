package core

import "testing"

func TestParseMillilitres(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"250", 250, true},
		{" 250 ", 250, true},
		{"237.5", 237.5, true},
		{"237,5", 237.5, true},
		{"330 ml", 330, true},
		{"330ML", 330, true},
		{"", 0, false},
		{"0", 0, false},
		{"-200", 0, false},
		{"+200", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMillilitres(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseMillilitres(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseMillilitres(%q) expected error", tc.in)
		}
	}
}
