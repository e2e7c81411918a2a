package secret

import (
	"strings"
	"testing"
	"time"
)

func testEngine() *Engine {
	return New(4) // low cost for fast tests; production uses config.BcryptCost >= 12
}

func TestHashVerifyPassword(t *testing.T) {
	e := testEngine()
	hash, err := e.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !e.VerifyPassword("correct horse battery staple", hash) {
		t.Error("expected correct password to verify")
	}
	if e.VerifyPassword("wrong password", hash) {
		t.Error("expected wrong password to fail verification")
	}
}

func TestGenerateToken(t *testing.T) {
	e := testEngine()
	tok, err := e.GenerateToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if !strings.Contains(tok.Plaintext, ":") {
		t.Errorf("expected plaintext to contain prefix:secret separator, got %q", tok.Plaintext)
	}
	if !strings.HasPrefix(tok.Plaintext, tok.Prefix+":") {
		t.Errorf("expected plaintext to start with prefix, got %q / %q", tok.Plaintext, tok.Prefix)
	}
	if !e.VerifyTokenHash(tok.Plaintext, tok.Hash) {
		t.Error("expected generated token to verify against its own hash")
	}
	if e.VerifyTokenHash(tok.Plaintext+"x", tok.Hash) {
		t.Error("expected tampered plaintext to fail verification")
	}
}

func TestGenerateToken_UniquePrefixes(t *testing.T) {
	e := testEngine()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		tok, err := e.GenerateToken()
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		if seen[tok.Prefix] {
			t.Fatalf("prefix collision: %s", tok.Prefix)
		}
		seen[tok.Prefix] = true
	}
}

func TestSplitToken(t *testing.T) {
	prefix, rest, err := SplitToken("abc123:secretvalue")
	if err != nil {
		t.Fatalf("split token: %v", err)
	}
	if prefix != "abc123" {
		t.Errorf("expected prefix abc123, got %s", prefix)
	}
	if rest != "abc123:secretvalue" {
		t.Errorf("expected rest to equal full plaintext, got %s", rest)
	}

	if _, _, err := SplitToken("noseparator"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for missing separator, got %v", err)
	}
	if _, _, err := SplitToken(":onlysecret"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for empty prefix, got %v", err)
	}
	if _, _, err := SplitToken("onlyprefix:"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for empty secret, got %v", err)
	}
}

func TestRecoveryCodes(t *testing.T) {
	e := testEngine()
	codes, err := e.GenerateRecoveryCodes(10)
	if err != nil {
		t.Fatalf("generate recovery codes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	hash, err := e.HashRecoveryCode(codes[0])
	if err != nil {
		t.Fatalf("hash recovery code: %v", err)
	}
	if !e.VerifyRecoveryCode(codes[0], hash) {
		t.Error("expected recovery code to verify against its own hash")
	}
	if !e.VerifyRecoveryCode(strings.ToLower(codes[0]), hash) {
		t.Error("expected recovery code verification to be case-insensitive")
	}
	if e.VerifyRecoveryCode(codes[1], hash) {
		t.Error("expected a different recovery code to fail verification")
	}
}

func TestTOTP(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("dnsproxy", "alice")
	if err != nil {
		t.Fatalf("generate totp secret: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatal("expected non-empty secret and otpauth URL")
	}
	if !strings.Contains(url, "alice") {
		t.Errorf("expected otpauth URL to reference account name, got %s", url)
	}
}

func TestCurrentTOTPStep(t *testing.T) {
	now := time.Unix(1000, 0)
	later := time.Unix(1029, 0)
	evenLater := time.Unix(1030, 0)
	if CurrentTOTPStep(now) != CurrentTOTPStep(later) {
		t.Error("expected same 30s step for times within the same window")
	}
	if CurrentTOTPStep(now) == CurrentTOTPStep(evenLater) {
		t.Error("expected different step once the 30s window rolls over")
	}
}

func TestRandomSessionID(t *testing.T) {
	id1, err := RandomSessionID()
	if err != nil {
		t.Fatalf("random session id: %v", err)
	}
	id2, err := RandomSessionID()
	if err != nil {
		t.Fatalf("random session id: %v", err)
	}
	if id1 == id2 {
		t.Error("expected distinct session IDs")
	}
	if len(id1) != 48 { // 24 bytes hex-encoded
		t.Errorf("expected 48-char hex session id, got %d chars", len(id1))
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Error("expected equal strings to match")
	}
	if ConstantTimeEqual("abc", "abd") {
		t.Error("expected different strings to not match")
	}
}
