// Package diagnostic turns the free-form stderr of xml2rfc into
// line-addressed records.
package diagnostic

import (
	"regexp"
	"strconv"
	"strings"
)

// Severity defines the importance of a record.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	}
	return "unknown"
}

// Record is a single diagnostic. Line is zero-based.
type Record struct {
	Line     int
	Severity Severity
	Message  string
}

type rule struct {
	pattern *regexp.Regexp
	extract func(m []string) (line string, sev Severity, msg string)
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{
		// doc.xml(12): Warning: undefined reference
		pattern: regexp.MustCompile(`^(.+?)\((\d+)\): (Warning|Error): (.+)$`),
		extract: func(m []string) (string, Severity, string) {
			sev := SeverityError
			if m[3] == "Warning" {
				sev = SeverityWarning
			}
			return m[2], sev, m[4]
		},
	},
	{
		// doc.xml: Line 5: not well-formed
		pattern: regexp.MustCompile(`^(.+?): Line (\d+): (.+)$`),
		extract: func(m []string) (string, Severity, string) {
			return m[2], SeverityError, m[3]
		},
	},
}

// Parse extracts records from text in input order. Lines matching no rule
// are dropped.
func Parse(text string) []Record {
	if text == "" {
		return nil
	}

	var records []Record
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

func parseLine(line string) (Record, bool) {
	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, sev, msg := r.extract(m)
		return Record{
			Line:     zeroBased(num),
			Severity: sev,
			Message:  strings.TrimSpace(msg),
		}, true
	}
	return Record{}, false
}

func zeroBased(num string) int {
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

// Equal reports whether two record sequences are identical.
func Equal(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CountErrors returns the number of error-severity records.
func CountErrors(records []Record) int {
	n := 0
	for _, r := range records {
		if r.Severity == SeverityError {
			n++
		}
	}
	return n
}
