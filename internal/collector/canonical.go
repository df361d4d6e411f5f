package collector

import (
	"strings"
	"time"
	"unicode"
)

// Canonicalize maps one raw listing record into the canonical schema.
// A record without a result identifier cannot be completed and is dropped.
// Date parse failures yield a zero date rather than an error.
func Canonicalize(raw RawListingRecord, dept Department) (CanonicalRecord, bool) {
	if raw.ResultID == "" {
		return CanonicalRecord{}, false
	}
	return CanonicalRecord{
		LastName:    capitalize(raw.LastName),
		FirstName:   capitalize(raw.FirstName),
		MiddleName:  capitalize(raw.MiddleName),
		Birthday:    parseDate(raw.Birthday),
		Prefix:      dept.Prefix,
		TestID:      raw.ResultID,
		TestDate:    parseDate(raw.TestDate),
		TestCode:    raw.TestCode,
		TestName:    raw.TestName,
		ServiceName: dept.Name,
	}, true
}

func parseDate(s string) time.Time {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// capitalize uppercases the first rune and lowercases the rest, so "IVANOV"
// and "ivanov" normalize to the same stored value.
func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
