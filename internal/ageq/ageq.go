// Package ageq translates an age predicate string ("18", ">=18", "<18") into
// a birthdate bound relative to "today", using calendar-accurate subtraction
// rather than the 365.25-day approximation the original source used.
package ageq

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Op is a comparison operator over age in years.
type Op string

const (
	OpGTE Op = ">="
	OpGT  Op = ">"
	OpLTE Op = "<="
	OpLT  Op = "<"
	OpEQ  Op = "=="
)

// Bound is a compiled birthdate predicate: BirthDate CompareOp Date.
type Bound struct {
	Op   Op
	Date time.Time
}

var predicatePattern = regexp.MustCompile(`^\s*(>=|<=|==|>|<)?\s*(\d+(?:\.\d+)?)\s*$`)

// Parse parses an age predicate such as ">=18" or "18" (no operator implies
// ==) into a Bound, evaluating "today" as the given reference date.
func Parse(predicate string, today time.Time) (Bound, error) {
	m := predicatePattern.FindStringSubmatch(predicate)
	if m == nil {
		return Bound{}, fmt.Errorf("malformed age predicate %q", predicate)
	}

	op := Op(m[1])
	if op == "" {
		op = OpEQ
	}

	years, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Bound{}, fmt.Errorf("malformed age predicate %q: %w", predicate, err)
	}
	if years < 0 {
		return Bound{}, fmt.Errorf("malformed age predicate %q: negative age", predicate)
	}

	cutoff := subtractYears(today, years)

	// age >= a  -> birth_date <= today - a years
	// age >  a  -> birth_date <  today - a years
	// age <= a  -> birth_date >= today - a years
	// age <  a  -> birth_date >  today - a years
	// age == a  -> birth_date == today - a years (same calendar day)
	switch op {
	case OpGTE:
		return Bound{Op: OpLTE, Date: cutoff}, nil
	case OpGT:
		return Bound{Op: OpLT, Date: cutoff}, nil
	case OpLTE:
		return Bound{Op: OpGTE, Date: cutoff}, nil
	case OpLT:
		return Bound{Op: OpGT, Date: cutoff}, nil
	case OpEQ:
		return Bound{Op: OpEQ, Date: cutoff}, nil
	default:
		return Bound{}, fmt.Errorf("malformed age predicate %q: unknown operator", predicate)
	}
}

// subtractYears moves `t` back by `years` years, supporting fractional years
// by first subtracting whole years and then the remaining fraction in days,
// preserving calendar accuracy (leap years, month lengths) for the integer
// part.
func subtractYears(t time.Time, years float64) time.Time {
	whole := int(years)
	frac := years - float64(whole)

	out := t.AddDate(-whole, 0, 0)
	if frac > 0 {
		days := int(frac * 365.25)
		out = out.AddDate(0, 0, -days)
	}
	return out
}

// Matches reports whether a birthdate satisfies the compiled bound.
func (b Bound) Matches(birthDate time.Time) bool {
	switch b.Op {
	case OpLTE:
		return !birthDate.After(b.Date)
	case OpLT:
		return birthDate.Before(b.Date)
	case OpGTE:
		return !birthDate.Before(b.Date)
	case OpGT:
		return birthDate.After(b.Date)
	case OpEQ:
		return birthDate.Year() == b.Date.Year() && birthDate.Month() == b.Date.Month() && birthDate.Day() == b.Date.Day()
	default:
		return false
	}
}
