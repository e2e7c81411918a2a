// Package secret implements password hashing, API token generation and
// verification, recovery codes, and TOTP — the credential & secret engine
// (C2). Bcrypt is used for both passwords and tokens so the attack surface
// and cost profile are uniform across both hash families.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned by SplitToken for a malformed token. Callers
// that look a token up by prefix and verify it must not distinguish an
// unknown prefix from a failed verification in any response or log
// visible to the requester (spec §4.2, §7).
var ErrInvalidToken = errors.New("invalid_token")

// Engine bundles the configured bcrypt cost. Zero value is invalid; use New.
type Engine struct {
	bcryptCost int
}

// New builds an Engine. cost must be >= 12 per spec §3/§6; callers should
// fail fast at configuration load if it is lower.
func New(cost int) *Engine {
	return &Engine{bcryptCost: cost}
}

// HashPassword hashes plain with bcrypt at the engine's configured cost.
func (e *Engine) HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), e.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash. Bcrypt's comparison is
// already constant-time with respect to the hash contents.
func (e *Engine) VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// GeneratedToken is the one-time plaintext plus its durable storage form.
type GeneratedToken struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// GenerateToken creates a new API token: prefix is 8 random hex bytes (16
// hex chars), secret is 24 random bytes (192 bits) base64url-encoded
// without padding. Plaintext is "prefix:secret"; Hash is bcrypt over the
// full plaintext. The plaintext is returned exactly once by this call and
// is never recoverable from storage.
func (e *Engine) GenerateToken() (*GeneratedToken, error) {
	prefixBytes := make([]byte, 8)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)
	secretPart := base64.RawURLEncoding.EncodeToString(secretBytes)
	plaintext := prefix + ":" + secretPart

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), e.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}
	return &GeneratedToken{Plaintext: plaintext, Prefix: prefix, Hash: string(hash)}, nil
}

// SplitToken extracts the prefix of a presented plaintext token for store
// lookup; rest is the full plaintext, which is what VerifyTokenHash
// compares against the stored hash. Returns an error if the shape is wrong;
// callers should map that to ErrInvalidToken without further detail.
func SplitToken(plaintext string) (prefix, rest string, err error) {
	idx := strings.IndexByte(plaintext, ':')
	if idx <= 0 || idx == len(plaintext)-1 {
		return "", "", ErrInvalidToken
	}
	return plaintext[:idx], plaintext, nil
}

// VerifyTokenHash compares a presented plaintext against the stored bcrypt
// hash for the token record matched by prefix.
func (e *Engine) VerifyTokenHash(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// GenerateRecoveryCodes returns n human-typeable codes (grouped
// XXXX-XXXX), for display exactly once; callers persist only their bcrypt
// hashes.
func (e *Engine) GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		raw := strings.ToUpper(hex.EncodeToString(buf))
		codes[i] = raw[:4] + "-" + raw[4:8]
	}
	return codes, nil
}

// HashRecoveryCode bcrypt-hashes one recovery code for storage.
func (e *Engine) HashRecoveryCode(code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(normalizeCode(code)), e.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash recovery code: %w", err)
	}
	return string(b), nil
}

// VerifyRecoveryCode checks code against one stored hash. Consuming
// (marking used) is the store's responsibility so it can be done
// atomically with the lookup.
func (e *Engine) VerifyRecoveryCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalizeCode(code))) == nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateTOTPSecret returns a new base32 TOTP secret suitable for
// presenting as a QR-code enrollment URI.
func GenerateTOTPSecret(issuer, accountName string) (secret string, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP checks code against secret with a ±1 step (30s) window,
// consistent with spec §4.2. It keeps no state, and no caller records
// consumed steps (the totp_consumed_steps table is never written), so a
// code that verified once verifies again while it stays inside the window.
func VerifyTOTP(secretB32, code string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secretB32, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// CurrentTOTPStep returns the 30s step counter for now.
func CurrentTOTPStep(now time.Time) int64 {
	return now.Unix() / 30
}

// RandomSessionID returns a random 192-bit session identifier, hex-encoded,
// as required by spec §5 for the server-side session store key.
func RandomSessionID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ConstantTimeEqual compares two strings without leaking timing info,
// used for cookie/CSRF token comparisons.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
