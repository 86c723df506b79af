// Package nameparse extracts lightweight metadata from filenames: course
// codes, embedded dates, and document-type keywords. The results feed the
// file index and the prompts built from it; nothing here is authoritative,
// it only has to be right often enough to be useful.
package nameparse

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Metadata is what a filename alone can tell us about a file.
type Metadata struct {
	CourseCode string   `json:"course_code,omitempty"` // e.g. CS101, MATH221
	Date       string   `json:"date,omitempty"`        // normalized YYYY-MM-DD when possible
	DocType    string   `json:"doc_type,omitempty"`    // lecture, assignment, invoice, ...
	Keywords   []string `json:"keywords,omitempty"`    // residual name tokens, lower-cased
}

var (
	// Two to four uppercase letters followed by two to four digits, the
	// common course code shape. Uppercase-only keeps "file2023" out.
	courseCodeRe = regexp.MustCompile(`\b([A-Z]{2,4})[ -]?(\d{2,4})\b`)

	// ISO-ish and day/month-first date shapes. Underscores are replaced
	// with spaces before matching, so a space is a valid separator here.
	isoDateRe  = regexp.MustCompile(`\b(\d{4})[-. ](\d{1,2})[-. ](\d{1,2})\b`)
	dmyDateRe  = regexp.MustCompile(`\b(\d{1,2})[-. ](\d{1,2})[-. ](\d{4})\b`)
	bareYearRe = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

	tokenSplitRe = regexp.MustCompile(`[ _\-.,()\[\]]+`)
	versionRe    = regexp.MustCompile(`^v\d+$`)
)

// docTypeKeywords maps a token to the document type it indicates. The first
// matching token in name order wins.
var docTypeKeywords = map[string]string{
	"lecture":      "lecture",
	"lec":          "lecture",
	"slides":       "lecture",
	"assignment":   "assignment",
	"hw":           "assignment",
	"homework":     "assignment",
	"lab":          "lab",
	"exam":         "exam",
	"midterm":      "exam",
	"final":        "exam",
	"quiz":         "exam",
	"notes":        "notes",
	"note":         "notes",
	"summary":      "notes",
	"report":       "report",
	"paper":        "report",
	"essay":        "report",
	"thesis":       "report",
	"invoice":      "invoice",
	"receipt":      "receipt",
	"statement":    "statement",
	"resume":       "resume",
	"cv":           "resume",
	"photo":        "photo",
	"img":          "photo",
	"screenshot":   "screenshot",
	"screen":       "screenshot",
	"presentation": "presentation",
	"backup":       "backup",
}

// stopTokens are dropped from the keyword residue.
var stopTokens = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true,
	"for": true, "to": true, "in": true, "copy": true,
	"new": true, "old": true, "draft": true,
}

// Parse extracts metadata from a single filename (base name or full path).
func Parse(filename string) Metadata {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	// Word-boundary matching does not fire between '_' and a digit, so
	// normalize underscores to spaces up front.
	remaining := strings.ReplaceAll(stem, "_", " ")

	var md Metadata

	if m := courseCodeRe.FindStringSubmatch(remaining); m != nil {
		md.CourseCode = m[1] + m[2]
		remaining = strings.Replace(remaining, m[0], " ", 1)
	}

	if date, rest, ok := extractDate(remaining); ok {
		md.Date = date
		remaining = rest
	}

	tokens := tokenSplitRe.Split(strings.ToLower(remaining), -1)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if md.DocType == "" {
			if dt, ok := lookupDocType(tok); ok {
				md.DocType = dt
				continue
			}
		}
		if stopTokens[tok] || isNumeric(tok) || versionRe.MatchString(tok) || len(tok) < 2 {
			continue
		}
		md.Keywords = append(md.Keywords, tok)
	}

	return md
}

// lookupDocType resolves a token to a document type, tolerating trailing
// digits ("hw3", "lec05").
func lookupDocType(tok string) (string, bool) {
	if dt, ok := docTypeKeywords[tok]; ok {
		return dt, true
	}
	trimmed := strings.TrimRight(tok, "0123456789")
	if trimmed != tok && trimmed != "" {
		if dt, ok := docTypeKeywords[trimmed]; ok {
			return dt, true
		}
	}
	return "", false
}

// extractDate finds the first date-shaped run, normalizing to YYYY-MM-DD
// where the shape allows. A bare year is kept as-is.
func extractDate(s string) (date, rest string, ok bool) {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3]), strings.Replace(s, m[0], " ", 1), true
	}
	if m := dmyDateRe.FindStringSubmatch(s); m != nil {
		// Ambiguous between day-first and month-first; month-first when
		// the first field fits a month.
		first, second := m[1], m[2]
		if atoi(first) <= 12 {
			return m[3] + "-" + pad2(first) + "-" + pad2(second), strings.Replace(s, m[0], " ", 1), true
		}
		return m[3] + "-" + pad2(second) + "-" + pad2(first), strings.Replace(s, m[0], " ", 1), true
	}
	if m := bareYearRe.FindStringSubmatch(s); m != nil {
		return m[1], strings.Replace(s, m[0], " ", 1), true
	}
	return "", s, false
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
