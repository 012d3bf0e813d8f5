// SPDX-License-Identifier: MPL-2.0

package quote

import "strings"

// Quote wraps s so the target shell flavor reproduces it as exactly one
// argument, byte for byte, including embedded quotes, `$`, backticks,
// redirection operators, and glob metacharacters.
func Quote(s string, flavor Flavor) string {
	switch flavor {
	case PowerShell:
		return quotePowerShell(s)
	default:
		return quotePOSIX(s)
	}
}

// quotePOSIX produces a single-quoted POSIX literal. Inside single quotes
// every byte is literal except the single quote itself, which cannot be
// escaped inside the quotes it delimits; the standard workaround closes
// the quote, emits an escaped quote, and reopens: '\'' .
func quotePOSIX(s string) string {
	if s == "" {
		return "''"
	}
	if !needsPOSIXQuoting(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// needsPOSIXQuoting reports whether s contains any character that is not
// safe unquoted in POSIX shells. Quoting unconditionally is also correct;
// this is purely a readability optimisation for plain identifiers.
func needsPOSIXQuoting(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '/' || c == ':' || c == '@' || c == '%' || c == '+':
		default:
			return true
		}
	}
	return false
}

// quotePowerShell produces a single-quoted PowerShell literal. Inside
// single quotes PowerShell treats everything literally except the quote
// character, doubled to escape it.
func quotePowerShell(s string) string {
	if s == "" {
		return "''"
	}
	if !needsPowerShellQuoting(s) {
		return s
	}
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

func needsPowerShellQuoting(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '/' || c == ':' || c == '@' || c == '%' || c == '+':
		default:
			return true
		}
	}
	return false
}
