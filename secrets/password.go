// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"fmt"
	"unicode"

	"github.com/sethvargo/go-password/password"
)

// GeneratorOptions configures GeneratePassword (spec.md §4.10 "Password
// utilities"). Zero-value Options selects a 20-character password with
// at least one digit and one symbol, no repeated characters.
type GeneratorOptions struct {
	Length      int
	NumDigits   int
	NumSymbols  int
	NoUpper     bool
	AllowRepeat bool
}

// GeneratePassword produces a cryptographically secure password.
func GeneratePassword(opts GeneratorOptions) (string, error) {
	length := opts.Length
	if length <= 0 {
		length = 20
	}
	numDigits := opts.NumDigits
	if numDigits <= 0 {
		numDigits = 2
	}
	numSymbols := opts.NumSymbols
	if numSymbols <= 0 {
		numSymbols = 2
	}
	pw, err := password.Generate(length, numDigits, numSymbols, opts.NoUpper, opts.AllowRepeat)
	if err != nil {
		return "", fmt.Errorf("secrets: generate password: %w", err)
	}
	return pw, nil
}

// ValidationIssue names one unmet password requirement.
type ValidationIssue string

const (
	IssueTooShort    ValidationIssue = "password must be at least 8 characters"
	IssueNoUpper     ValidationIssue = "password must contain an uppercase letter"
	IssueNoLower     ValidationIssue = "password must contain a lowercase letter"
	IssueNoDigit     ValidationIssue = "password must contain a digit"
	IssueNoSymbol    ValidationIssue = "password must contain a symbol"
)

// ValidatePassword checks length >= 8 and the presence of upper, lower,
// digit and symbol character classes, returning every unmet requirement
// (spec.md §4.10 "validator").
func ValidatePassword(pw string) []ValidationIssue {
	var issues []ValidationIssue
	if len(pw) < 8 {
		issues = append(issues, IssueTooShort)
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper {
		issues = append(issues, IssueNoUpper)
	}
	if !hasLower {
		issues = append(issues, IssueNoLower)
	}
	if !hasDigit {
		issues = append(issues, IssueNoDigit)
	}
	if !hasSymbol {
		issues = append(issues, IssueNoSymbol)
	}
	return issues
}
