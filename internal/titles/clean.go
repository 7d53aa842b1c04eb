// Package titles cleans and normalizes book titles and authors before they
// are used as catalog queries, dedup keys or canonical comparison keys.
//
// Cleaning removes non-bibliographic noise but keeps the string readable.
// Folding (Fold, NormalizeTitle) produces comparison keys. Neither step
// unifies semantically different titles ("1984" and "Nineteen Eighty-Four"
// stay distinct); that is the canonical resolver's job.
package titles

import (
	"regexp"
	"strings"
	"unicode"
)

// KnownBookExtensions contains file extensions commonly used for e-books.
// Longer compound extensions come first so ".fb2.zip" wins over ".zip".
var KnownBookExtensions = []string{
	".fb2.zip",
	".tar.gz",
	".fb2",
	".epub",
	".pdf",
	".txt",
	".docx",
	".doc",
	".mobi",
	".azw3",
	".azw",
	".kfx",
	".djvu",
}

var (
	bracketedTag = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)
	libraryTag   = regexp.MustCompile(`(?i)\(\s*(?:z-?lib(?:rary)?(?:\.\w+)?|libgen(?:\.\w+)?|anna'?s[ -]archive|pdfdrive(?:\.\w+)?|b-ok(?:\.\w+)?|1lib(?:\.\w+)?)\s*\)`)
	runCode      = regexp.MustCompile(`\b[A-Z0-9]{10,}\b`)
	dashSuffix   = regexp.MustCompile(`\s+[-–—]\s+([^-–—]+)$`)
	spaces       = regexp.MustCompile(`\s+`)
	authorSplit  = regexp.MustCompile(`\s*(?:;|&|\s+and\s+)\s*`)
)

// CleanTitle strips source-library tags, long uppercase/alphanumeric codes,
// file-extension suffixes and trailing author remnants from a raw title.
// author may be empty; when given, a trailing "(author)" or "- author"
// left over from a filename is removed too.
func CleanTitle(title, author string) string {
	s := strings.TrimSpace(title)
	s = strings.ReplaceAll(s, "_", " ")
	s = trimExtension(s)
	s = bracketedTag.ReplaceAllString(s, " ")
	s = libraryTag.ReplaceAllString(s, " ")
	s = stripRunCodes(s)
	s = collapse(s)
	s = trimExtension(s)

	if a := CleanAuthor(author); a != "" {
		s = stripTrailingAuthor(s, a)
		if raw := collapse(strings.ReplaceAll(author, "_", " ")); raw != a {
			s = stripTrailingAuthor(s, raw)
		}
	}

	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '–' || r == '—' || r == ',' || r == ':'
	})
	if s == "" {
		// Everything was noise; fall back to the trimmed original.
		return strings.TrimSpace(title)
	}
	return s
}

// CleanAuthor strips the same noise as CleanTitle, maps the "Unknown Author"
// sentinel to "" and turns a single "Last, First" into "First Last".
func CleanAuthor(author string) string {
	s := strings.TrimSpace(author)
	if strings.EqualFold(s, "Unknown Author") || strings.EqualFold(s, "Unknown") {
		return ""
	}
	s = strings.ReplaceAll(s, "_", " ")
	s = trimExtension(s)
	s = bracketedTag.ReplaceAllString(s, " ")
	s = libraryTag.ReplaceAllString(s, " ")
	s = stripRunCodes(s)
	s = collapse(s)

	if parts := strings.Split(s, ","); len(parts) == 2 && !authorSplit.MatchString(s) {
		last, first := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if last != "" && first != "" && !strings.Contains(last, " ") {
			s = first + " " + last
		}
	}
	return strings.Trim(s, " ,;-")
}

// SplitAuthors splits a cleaned author string into individual names.
func SplitAuthors(author string) []string {
	cleaned := CleanAuthor(author)
	if cleaned == "" {
		return nil
	}
	var out []string
	for _, name := range authorSplit.Split(cleaned, -1) {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func trimExtension(s string) string {
	lower := strings.ToLower(s)
	for _, ext := range KnownBookExtensions {
		if strings.HasSuffix(lower, ext) {
			return strings.TrimSpace(s[:len(s)-len(ext)])
		}
	}
	return s
}

// stripRunCodes removes ASIN-like or hash-like tokens. A run must contain at
// least one digit and one letter so that shouted words and years survive.
func stripRunCodes(s string) string {
	return runCode.ReplaceAllStringFunc(s, func(m string) string {
		hasDigit := strings.IndexFunc(m, unicode.IsDigit) >= 0
		hasLetter := strings.IndexFunc(m, unicode.IsLetter) >= 0
		if hasDigit && hasLetter {
			return " "
		}
		return m
	})
}

func stripTrailingAuthor(s, author string) string {
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndex(s, "("); open >= 0 {
			inner := strings.TrimSpace(s[open+1 : len(s)-1])
			if strings.EqualFold(trimExtension(inner), author) {
				return strings.TrimSpace(s[:open])
			}
		}
	}
	if m := dashSuffix.FindStringSubmatchIndex(s); m != nil {
		if strings.EqualFold(strings.TrimSpace(s[m[2]:m[3]]), author) {
			return strings.TrimSpace(s[:m[0]])
		}
	}
	return s
}

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
