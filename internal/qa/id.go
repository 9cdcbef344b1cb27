package qa

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TempPrefix marks ids allocated locally before the server confirms an entity.
const TempPrefix = "temp-"

// ID identifies a question or reply. Ids cross the network as JSON numbers or
// strings; both decode to the same canonical form, so plain == is safe.
type ID string

// IsTemporary reports whether the id is a client placeholder.
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(string(id), TempPrefix)
}

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts a number, a string or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = NormalizeID(s)
		return nil
	}
	if !looksNumeric(string(b)) {
		return fmt.Errorf("decode id: unexpected token %s", b)
	}
	*id = NormalizeID(string(b))
	return nil
}

// NormalizeID canonicalizes a raw identifier. Numeric-looking values are
// rendered the way a number would be ("007" and "7.0" become "7"); anything
// else is kept as trimmed text.
func NormalizeID(raw string) ID {
	s := strings.TrimSpace(raw)
	if !looksNumeric(s) {
		return ID(s)
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return ID(n.String())
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return ID(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return ID(s)
}

// looksNumeric accepts an optional sign, digits and at most one decimal point.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
