package fetcher

import (
	"strconv"
	"strings"
	"time"

	"vidproxy/pkg/types"

	"github.com/araddon/dateparse"
)

// ParseSetCookie splits one Set-Cookie line into its pair and attributes.
// Attributes without a value are recorded as true. Expires and Max-Age set
// ExpiresAt, with Max-Age taking precedence.
func ParseSetCookie(line string) types.CookieRecord {
	parts := strings.Split(line, ";")
	name, value, _ := strings.Cut(parts[0], "=")

	rec := types.CookieRecord{
		Name:       strings.TrimSpace(name),
		Value:      strings.TrimSpace(value),
		Attributes: make(map[string]any, len(parts)-1),
		Raw:        line,
	}

	var maxAgeSet bool
	for _, part := range parts[1:] {
		attrName, attrValue, _ := strings.Cut(part, "=")
		attrName = strings.TrimSpace(attrName)
		attrValue = strings.TrimSpace(attrValue)
		if attrName == "" {
			continue
		}
		if attrValue == "" {
			rec.Attributes[attrName] = true
			continue
		}
		rec.Attributes[attrName] = attrValue

		switch strings.ToLower(attrName) {
		case "max-age":
			if secs, err := strconv.Atoi(attrValue); err == nil {
				t := time.Now().Add(time.Duration(secs) * time.Second)
				rec.ExpiresAt = &t
				maxAgeSet = true
			}
		case "expires":
			if maxAgeSet {
				continue
			}
			if t, err := dateparse.ParseAny(attrValue); err == nil {
				t = t.UTC()
				rec.ExpiresAt = &t
			}
		}
	}
	return rec
}

// ParseSetCookies parses every line in order.
func ParseSetCookies(lines []string) []types.CookieRecord {
	records := make([]types.CookieRecord, 0, len(lines))
	for _, line := range lines {
		records = append(records, ParseSetCookie(line))
	}
	return records
}

// CookiePairs returns the name=value part of each Set-Cookie line joined for a
// Cookie header.
func CookiePairs(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		pair, _, _ := strings.Cut(line, ";")
		if pair = strings.TrimSpace(pair); pair != "" {
			out = append(out, pair)
		}
	}
	return strings.Join(out, "; ")
}

// EarliestExpiry returns the soonest ExpiresAt among records.
func EarliestExpiry(records []types.CookieRecord) (time.Time, bool) {
	var earliest time.Time
	for _, r := range records {
		if r.ExpiresAt == nil {
			continue
		}
		if earliest.IsZero() || r.ExpiresAt.Before(earliest) {
			earliest = *r.ExpiresAt
		}
	}
	return earliest, !earliest.IsZero()
}
