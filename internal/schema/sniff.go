// Package schema derives, merges and compares dataset schemas and converts raw values to
// their typed form. Functions here never mutate their inputs.
package schema

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

var (
	intRe      = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
	numberRe   = regexp.MustCompile(`^-?(0|[1-9][0-9]*)([.,][0-9]+)?([eE][-+]?[0-9]+)?$`)
	dateRe     = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	dateTimeRe = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}[T ][0-9]{2}:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?(Z|[+-][0-9]{2}:?[0-9]{2})?$`)
	uriRe      = regexp.MustCompile(`^(https?|ftp)://[^\s]+$`)
	escapeRe   = regexp.MustCompile(`[.\s$;,:!]`)
)

var booleans = map[string]bool{
	"true": true, "false": false,
	"oui": true, "non": false,
	"yes": true, "no": false,
	"vrai": true, "faux": false,
}

// EscapeKey turns an arbitrary column name into a schema key.
func EscapeKey(name string) string {
	key := strings.TrimSpace(name)
	key = strings.ReplaceAll(key, `"`, "")
	key = escapeRe.ReplaceAllString(key, "_")
	if key == "" {
		return "_"
	}
	return key
}

// Sniff infers the narrowest type that accepts every non empty value. Empty input sniffs
// as string.
func Sniff(values []string) (typ, format string) {
	candidates := []func(string) bool{isBoolean, isInteger, isNumber, isDate, isDateTime, isURI}
	kinds := []struct{ typ, format string }{
		{datasets.TypeBoolean, ""},
		{datasets.TypeInteger, ""},
		{datasets.TypeNumber, ""},
		{datasets.TypeString, datasets.FormatDate},
		{datasets.TypeString, datasets.FormatDateTime},
		{datasets.TypeString, datasets.FormatURIReference},
	}
	seen := 0
	alive := make([]bool, len(candidates))
	for i := range alive {
		alive[i] = true
	}
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		seen++
		for i, check := range candidates {
			if alive[i] && !check(v) {
				alive[i] = false
			}
		}
	}
	if seen == 0 {
		return datasets.TypeString, ""
	}
	for i, ok := range alive {
		if ok {
			return kinds[i].typ, kinds[i].format
		}
	}
	return datasets.TypeString, ""
}

func isBoolean(v string) bool {
	_, ok := booleans[strings.ToLower(v)]
	return ok
}

func isInteger(v string) bool {
	if !intRe.MatchString(v) {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isNumber(v string) bool { return numberRe.MatchString(v) }
func isDate(v string) bool {
	if !dateRe.MatchString(v) {
		return false
	}
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}
func isDateTime(v string) bool {
	if !dateTimeRe.MatchString(v) {
		return false
	}
	_, err := ParseDateTime(v)
	return err == nil
}
func isURI(v string) bool { return uriRe.MatchString(v) }

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15:04Z07:00",
}

// ParseDateTime accepts the timestamp shapes tolerated on input. Values without an offset
// are read as UTC.
func ParseDateTime(v string) (time.Time, error) {
	var firstErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// NormalizeDateTime rewrites a timestamp into the fixed width storage layout.
func NormalizeDateTime(v string) (string, error) {
	t, err := ParseDateTime(strings.TrimSpace(v))
	if err != nil {
		return "", err
	}
	return datasets.FormatTimestamp(t), nil
}
