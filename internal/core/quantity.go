// Package core provides the intake ledger's domain types.
//
// This file contains parsing helpers for millilitre quantities entered
// as free text, for example the cup-size field of a settings form.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseMillilitres converts a user-entered quantity string to millilitres.
//
// It accepts both dot (237.5) and comma (237,5) decimal separators and an
// optional trailing "ml" unit. Only positive values are accepted.
//
// Examples:
//
//	ParseMillilitres("250") -> 250, nil
//	ParseMillilitres("237,5") -> 237.5, nil
//	ParseMillilitres("330 ml") -> 330, nil
func ParseMillilitres(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.ToLower(s), "ml")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidQuantity
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only plain positive values allowed
		return 0, ErrInvalidQuantity
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return 0, ErrInvalidQuantity
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidQuantity
	}
	if v <= 0 {
		return 0, ErrInvalidQuantity
	}
	return v, nil
}
