package auth

import (
	"fmt"
	"strings"
	"unicode"
)

const minPasswordLength = 8

// PasswordRules reports compliance with each password rule.
type PasswordRules struct {
	MinLength bool `json:"min_length"`
	Uppercase bool `json:"uppercase"`
	Digit     bool `json:"digit"`
	Special   bool `json:"special"`
}

// ValidateEmail is a structural check only; it does not prove the address exists.
func ValidateEmail(email string) (bool, string) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, "Email is required"
	}
	if strings.ContainsFunc(email, unicode.IsSpace) {
		return false, "Email must not contain spaces"
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return false, "Email must contain @"
	}
	if strings.Contains(domain, "@") {
		return false, "Email must contain a single @"
	}
	if local == "" {
		return false, "Email is missing the part before @"
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false, "Email domain must contain a dot, e.g. example.com"
	}
	for _, l := range labels {
		if l == "" {
			return false, "Email domain is malformed"
		}
	}
	return true, ""
}

// ValidatePassword checks every rule. The reason names the first rule that
// failed; rules reports all of them.
func ValidatePassword(pw string) (bool, string, PasswordRules) {
	return ValidatePasswordMin(pw, minPasswordLength)
}

// ValidatePasswordMin is ValidatePassword with a raised minimum length.
// Values below 8 are treated as 8.
func ValidatePasswordMin(pw string, minLen int) (bool, string, PasswordRules) {
	minLen = max(minLen, minPasswordLength)
	rules := PasswordRules{MinLength: len([]rune(pw)) >= minLen}
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			rules.Uppercase = true
		case unicode.IsDigit(r):
			rules.Digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			rules.Special = true
		}
	}

	switch {
	case !rules.MinLength:
		return false, fmt.Sprintf("Password must be at least %d characters long", minLen), rules
	case !rules.Uppercase:
		return false, "Password must contain at least one uppercase letter", rules
	case !rules.Digit:
		return false, "Password must contain at least one number", rules
	case !rules.Special:
		return false, "Password must contain at least one special character", rules
	}
	return true, "", rules
}
