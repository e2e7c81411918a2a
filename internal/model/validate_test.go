package model

import "testing"

func TestValidateLabel(t *testing.T) {
	cases := map[string]bool{
		"home":                              true,
		"home-01":                           true,
		"a":                                 true,
		"-bad":                              false,
		"bad-":                              false,
		"":                                  false,
		"UPPER":                             false,
		"has_underscore":                    false,
		"0123456789012345678901234567890123456789012345678901234567890123": false, // 64 chars
	}
	for label, want := range cases {
		err := ValidateLabel(label)
		if (err == nil) != want {
			t.Errorf("ValidateLabel(%q) = %v, want valid=%v", label, err, want)
		}
	}
}

func TestValidateFQDN(t *testing.T) {
	if err := ValidateFQDN("home.example.com"); err != nil {
		t.Errorf("expected valid fqdn, got %v", err)
	}
	if err := ValidateFQDN(""); err == nil {
		t.Error("expected error for empty fqdn")
	}
	long := ""
	for i := 0; i < 5; i++ {
		long += "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz."
	}
	if err := ValidateFQDN(long + "com"); err == nil {
		t.Error("expected error for overlong fqdn")
	}
}

func TestValidateUsername(t *testing.T) {
	if errs := ValidateUsername("alice.bob-01"); len(errs) != 0 {
		t.Errorf("expected valid username, got %v", errs)
	}
	if errs := ValidateUsername("ab"); len(errs) == 0 {
		t.Error("expected error for too-short username")
	}
	if errs := ValidateUsername("Has Spaces"); len(errs) == 0 {
		t.Error("expected error for invalid chars")
	}
}

func TestValidateOperations(t *testing.T) {
	if errs := ValidateOperations("operations", []string{"read", "update"}); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	errs := ValidateOperations("operations", []string{"read", "nuke"})
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if errs[0].Field != "operations[1]" {
		t.Errorf("expected field operations[1], got %s", errs[0].Field)
	}
}

func TestValidateDepth(t *testing.T) {
	if errs := ValidateDepth("root", 1, 3); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if errs := ValidateDepth("root", -1, 3); len(errs) == 0 {
		t.Error("expected error for negative min")
	}
	if errs := ValidateDepth("root", 3, 1); len(errs) == 0 {
		t.Error("expected error for max < min")
	}
}

func TestSubdomainDepth(t *testing.T) {
	cases := []struct {
		root, value string
		wantDepth   int
		wantOK      bool
	}{
		{"example.com", "example.com", 0, true},
		{"example.com", "home.example.com", 1, true},
		{"example.com", "a.b.example.com", 2, true},
		{"example.com", "evilexample.com", 0, false},
		{"example.com", "example.com.evil.com", 0, false},
	}
	for _, c := range cases {
		depth, ok := SubdomainDepth(c.root, c.value)
		if depth != c.wantDepth || ok != c.wantOK {
			t.Errorf("SubdomainDepth(%q, %q) = (%d, %v), want (%d, %v)", c.root, c.value, depth, ok, c.wantDepth, c.wantOK)
		}
	}
}

func TestIsSubdomainOrEqual(t *testing.T) {
	if !IsSubdomainOrEqual("example.com", "example.com") {
		t.Error("expected zone to equal itself")
	}
	if !IsSubdomainOrEqual("example.com", "home.example.com") {
		t.Error("expected strict subdomain to match")
	}
	if IsSubdomainOrEqual("example.com", "evilexample.com") {
		t.Error("must not match by raw suffix across a label boundary")
	}
	if IsSubdomainOrEqual("example.com", "other.com") {
		t.Error("must not match unrelated domain")
	}
}
