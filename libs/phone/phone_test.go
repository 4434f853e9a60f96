package phone

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"+55 (11) 98888-7777":          "5511988887777",
		"11 98888-7777":                "5511988887777",
		"011 8888-7777":                "551188887777",
		"5511988887777@s.whatsapp.net": "5511988887777",
		"12345":                        "12345",
		"":                             "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid("(11) 8888-7777") {
		t.Fatalf("10 digit number should be valid")
	}
	if Valid("8888-7777") {
		t.Fatalf("8 digit number should be invalid")
	}
}

func TestSuffixIgnoresNinthDigitAndCountryCode(t *testing.T) {
	a := Suffix("5511988887777")
	b := Suffix("551188887777")
	c := Suffix("88887777@s.whatsapp.net")
	if a != "88887777" || a != b || b != c {
		t.Fatalf("suffixes differ: %q %q %q", a, b, c)
	}
}

func TestVariants(t *testing.T) {
	got := strings.Join(Variants("5511988887777"), ",")
	if got != "5511988887777,551188887777" {
		t.Fatalf("with ninth digit: %s", got)
	}
	got = strings.Join(Variants("551188887777"), ",")
	if got != "551188887777,5511988887777" {
		t.Fatalf("without ninth digit: %s", got)
	}
	if got := Variants("14155550100"); len(got) != 1 {
		t.Fatalf("non brazilian number should yield one variant: %v", got)
	}
}

func TestJIDs(t *testing.T) {
	got := JIDs("11988887777")
	want := []string{
		"5511988887777@s.whatsapp.net", "5511988887777",
		"551188887777@s.whatsapp.net", "551188887777",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("JIDs = %v", got)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("5511988887777"); got != "*********7777" {
		t.Fatalf("Mask = %q", got)
	}
}
