package parse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var postcodePattern = regexp.MustCompile(`^\d{4}$`)

var dateLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02", "20060102"}

var errEmpty = errors.New("empty value")

// normalizeHeader lower-cases and collapses whitespace for header matching.
func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// parseAmount reads a currency amount such as "$750,000" or "612.50".
// NaN and infinities are not amounts.
func parseAmount(s string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, errEmpty
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmpty
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func validPostcode(s string) bool {
	return postcodePattern.MatchString(s)
}
