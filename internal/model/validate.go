package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError names one invalid field, in the style of a JSON-Schema
// validator's error list but hand-rolled: a flat accumulator of
// (field path, message) pairs built up by the functions below.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a non-empty list of ValidationError, satisfying error.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateLabel checks a single DNS label against spec §4.4.
func ValidateLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return fmt.Errorf("label %q: length must be 1-63", label)
	}
	if !labelRe.MatchString(label) {
		return fmt.Errorf("label %q: must match [a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?", label)
	}
	return nil
}

// ValidateFQDN checks total length and each label of a fully-qualified
// domain name (no trailing dot expected).
func ValidateFQDN(fqdn string) error {
	if len(fqdn) == 0 || len(fqdn) > 253 {
		return fmt.Errorf("fqdn %q: length must be 1-253", fqdn)
	}
	for _, label := range strings.Split(fqdn, ".") {
		if err := ValidateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

var usernameRe = regexp.MustCompile(`^[a-z0-9._-]{3,64}$`)

// ValidateUsername checks Account.Username per spec §3.
func ValidateUsername(username string) []ValidationError {
	var errs []ValidationError
	if !usernameRe.MatchString(username) {
		errs = append(errs, ValidationError{
			Field:   "username",
			Message: "must match [a-z0-9._-]{3,64}",
		})
	}
	return errs
}

var validOperations = map[string]bool{"read": true, "create": true, "update": true, "delete": true}

// ValidateOperations checks that every entry in ops is a recognized
// operation name.
func ValidateOperations(field string, ops []string) []ValidationError {
	var errs []ValidationError
	for i, op := range ops {
		if !validOperations[op] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: fmt.Sprintf("unknown operation %q", op),
			})
		}
	}
	return errs
}

// ValidateDepth checks min/max subdomain depth bounds for a domain root.
func ValidateDepth(field string, min, max int) []ValidationError {
	var errs []ValidationError
	if min < 0 {
		errs = append(errs, ValidationError{Field: field + ".min_subdomain_depth", Message: "must be >= 0"})
	}
	if max < min {
		errs = append(errs, ValidationError{Field: field + ".max_subdomain_depth", Message: "must be >= min_subdomain_depth"})
	}
	return errs
}

// SubdomainDepth counts the label depth of value relative to root, where
// value == root is depth 0 (apex).
func SubdomainDepth(root, value string) (int, bool) {
	root = strings.TrimSuffix(strings.ToLower(root), ".")
	value = strings.TrimSuffix(strings.ToLower(value), ".")
	if value == root {
		return 0, true
	}
	suffix := "." + root
	if !strings.HasSuffix(value, suffix) {
		return 0, false
	}
	prefix := strings.TrimSuffix(value, suffix)
	if prefix == "" {
		return 0, false
	}
	return len(strings.Split(prefix, ".")), true
}

// IsSubdomainOrEqual reports whether target equals zone or is a strict
// subdomain of it by label boundary (never by raw suffix match, which
// would wrongly accept "evilexample.com" for zone "example.com").
func IsSubdomainOrEqual(zone, target string) bool {
	zone = strings.TrimSuffix(strings.ToLower(zone), ".")
	target = strings.TrimSuffix(strings.ToLower(target), ".")
	if zone == target {
		return true
	}
	return strings.HasSuffix(target, "."+zone)
}
