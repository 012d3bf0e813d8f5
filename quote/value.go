// SPDX-License-Identifier: MPL-2.0

// Package quote implements the Quoting & Interpolation grammar (spec.md
// §4.1): rendering a template of literal fragments and typed values into a
// single command string, quoted so the target shell reproduces each
// interpolated value as exactly one argument. POSIX quoting is verified
// against mvdan.cc/sh/v3's shell parser in tests.
package quote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"xec/xecerr"
)

// Flavor selects the quoting dialect a rendered fragment must survive.
type Flavor int

const (
	// POSIX quotes for sh/bash/dash-family shells.
	POSIX Flavor = iota
	// PowerShell quotes for pwsh/powershell.exe.
	PowerShell
)

// Value is anything that can be interpolated into a template. The
// concrete Go types accepted are documented on Render.
type Value any

// Raw marks a value for verbatim substitution, bypassing quoting
// entirely. Documented as unsafe (spec.md §4.1 rule 7); intended for
// deliberate glob/pipe/redirection construction.
type Raw string

// Template is an alternating sequence of literal string fragments and
// interpolated values, e.g. Template{"echo ", Raw("*"), " ", someValue}.
// Adjacent literals are not required to alternate strictly; any
// non-string, non-Raw element is treated as a Value to quote.
type Template []any

// Render assembles t into a single command-line string for the given
// shell flavor.
//
// Supported Value types: nil, string, bool, all integer and float kinds,
// []Value, []any and []string slices, and map[string]any / any
// JSON-marshalable mapping. Any other value, including other slice types,
// is rendered as canonical JSON like a mapping. A value implementing
// Deferred is awaited first.
//
// Rules (spec.md §4.1):
//  1. nil -> empty string.
//  2. string -> quoted as a single argument, all bytes preserved.
//  3. number/bool -> decimal / true|false literal, unquoted.
//  4. sequence -> elements independently quoted, joined by single spaces;
//     an empty sequence contributes nothing, not even a space.
//  5. mapping -> canonical JSON (stable key order), then quoted as one
//     argument. Never produces a default Go %v stringification.
//  6. a Deferred value is awaited before assembly, in order.
//  7. Raw values are substituted verbatim.
func Render(t Template, flavor Flavor) (string, error) {
	var b strings.Builder
	for _, item := range t {
		switch v := item.(type) {
		case string:
			b.WriteString(v)
		case Raw:
			b.WriteString(string(v))
		default:
			rendered, err := renderValue(item, flavor)
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
		}
	}
	return b.String(), nil
}

// Deferred is a value resolved asynchronously before interpolation, e.g.
// the output of a prior command. Await must be idempotent and safe to
// call more than once.
type Deferred interface {
	Await() (Value, error)
}

func renderValue(v Value, flavor Flavor) (string, error) {
	if d, ok := v.(Deferred); ok {
		resolved, err := d.Await()
		if err != nil {
			return "", err
		}
		return renderValue(resolved, flavor)
	}

	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return Quote(val, flavor), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []Value:
		return renderSequence(val, flavor)
	case []string:
		seq := make([]Value, len(val))
		for i, s := range val {
			seq[i] = s
		}
		return renderSequence(seq, flavor)
	case []any:
		return renderSequence(val, flavor)
	case map[string]any:
		return renderMapping(val, flavor)
	default:
		return renderMappingFallback(val, flavor)
	}
}

func renderSequence(seq []Value, flavor Flavor) (string, error) {
	parts := make([]string, 0, len(seq))
	for _, elem := range seq {
		rendered, err := renderValue(elem, flavor)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}
	return strings.Join(parts, " "), nil
}

func renderMapping(m map[string]any, flavor Flavor) (string, error) {
	canonical, err := canonicalJSON(m)
	if err != nil {
		return "", &xecerr.SerializationError{Reason: err.Error()}
	}
	return Quote(canonical, flavor), nil
}

func renderMappingFallback(v Value, flavor Flavor) (string, error) {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return "", &xecerr.SerializationError{Reason: fmt.Sprintf("value of type %T cannot be interpolated: %v", v, err)}
	}
	return Quote(canonical, flavor), nil
}

// canonicalJSON marshals v with stable (sorted) object key order. It
// detects cycles indirectly: json.Marshal on a cyclic structure recurses
// until Go's own depth guard fires, which we surface as a
// SerializationError rather than letting it panic past this package.
func canonicalJSON(v Value) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("circular or unencodable structure: %v", r)
		}
	}()

	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	// Re-decode into a generic value and re-encode with sorted keys so
	// mapping order never leaks into the rendered argument.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	return canonicalEncode(generic), nil
}

func canonicalEncode(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.WriteString(canonicalEncode(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalEncode(elem))
		}
		b.WriteByte(']')
		return b.String()
	default:
		enc, _ := json.Marshal(val)
		return string(enc)
	}
}
