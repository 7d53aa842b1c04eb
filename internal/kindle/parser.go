// Package kindle parses the Kindle "My Clippings.txt" export format into
// entries grouped by book.
//
// The format is a sequence of blocks separated by a "==========" line:
//
//	Title (Author)
//	- Your Highlight on page 8 | Location 64-65 | Added on Tuesday, April 15, 2025 10:16:21 PM
//
//	body text, possibly
//	spanning several lines
//	==========
//
// Parsing never fails as a whole: a block that cannot be understood becomes a
// ParseError row and the following blocks are still parsed.
package kindle

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mrlokans/marginalia/internal/entities"
)

const entrySeparator = "=========="

// Location is the reader's internal position marker. End is nil for a single position.
type Location struct {
	Start int  `json:"start"`
	End   *int `json:"end,omitempty"`
}

// ParsedEntry is one annotation recovered from the raw text.
type ParsedEntry struct {
	BookIdentifier string             `json:"book_identifier"`
	Title          string             `json:"title"`
	Author         string             `json:"author"`
	Type           entities.EntryType `json:"type"`
	Content        string             `json:"content"`
	Page           *int               `json:"page,omitempty"`
	Location       *Location          `json:"location,omitempty"`
	Timestamp      *time.Time         `json:"timestamp,omitempty"`
	Block          int                `json:"block"` // 1-based block number in the input
}

// ParsedBook is a title/author grouping exactly as it appears in the input.
type ParsedBook struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	EntryCount int    `json:"entry_count"`
}

// ParseError describes one block that could not be parsed.
type ParseError struct {
	Block   int    `json:"block"`
	Line    int    `json:"line"` // 1-based line of the block's first line
	Reason  string `json:"reason"`
	Snippet string `json:"snippet,omitempty"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("block %d (line %d): %s", e.Block, e.Line, e.Reason)
}

type ParseResult struct {
	Books   []ParsedBook  `json:"books"`
	Entries []ParsedEntry `json:"entries"`
	Errors  []ParseError  `json:"errors,omitempty"`
}

// Regex patterns for parsing metadata lines
var (
	// Matches: "- Your Highlight on page 8 | Location 64-64 | Added on Tuesday, April 15, 2025 10:16:21 PM"
	// or: "- Your Note on page 31 | Location 307 | Added on Tuesday, April 15, 2025 11:33:26 PM"
	// or: "- Your Highlight at location 784-785 | Added on Saturday, 26 March 2016 18:37:26"
	// or: "- Your Bookmark at location 346 | Added on Saturday, 26 March 2016 15:46:21"
	metadataPattern = regexp.MustCompile(`(?i)^-\s*Your\s+(Highlight|Note|Bookmark)\b`)

	// Page patterns: "on page 8" or "on page 207-207"
	pagePattern = regexp.MustCompile(`(?i)\bpage\s+(\d+)(?:\s*-\s*(\d+))?`)

	// Location patterns: "Location 64-64" or "location 1406-1407" or "at location 784-785"
	locationPattern = regexp.MustCompile(`(?i)\blocation\s+(\d+)(?:\s*-\s*(\d+))?`)

	addedOnPattern = regexp.MustCompile(`(?i)\badded on\s+(.+)$`)

	// Date patterns - multiple formats observed in the wild
	// "Tuesday, April 15, 2025 10:16:21 PM"
	// "Saturday, 26 March 2016 14:59:39"
	dateLayouts = []string{
		"Monday, January 2, 2006 3:04:05 PM",
		"Monday, January 2, 2006 15:04:05",
		"Monday, 2 January 2006 3:04:05 PM",
		"Monday, 2 January 2006 15:04:05",
		"Monday, January 2, 2006 3:04 PM",
		"Monday, 2 January 2006 15:04",
	}
)

// Parser parses Kindle My Clippings.txt format
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseReader reads all of r and parses it. Only read errors are returned;
// malformed blocks end up in ParseResult.Errors.
func (p *Parser) ParseReader(r io.Reader) (ParseResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ParseResult{}, fmt.Errorf("error reading clippings: %w", err)
	}
	return p.Parse(string(data)), nil
}

// Parse splits raw text into blocks and parses each one in a single pass.
func (p *Parser) Parse(raw string) ParseResult {
	raw = strings.TrimPrefix(raw, "\ufeff")

	var result ParseResult
	books := make(map[string]int) // identifier -> index in result.Books

	var block []string
	blockNum := 0
	blockStart := 1
	lineNum := 0

	flush := func() {
		if !isBlank(block) {
			blockNum++
			entry, perr := parseBlock(block, blockNum, blockStart)
			if perr != nil {
				result.Errors = append(result.Errors, *perr)
			} else {
				idx, ok := books[entry.BookIdentifier]
				if !ok {
					idx = len(result.Books)
					books[entry.BookIdentifier] = idx
					result.Books = append(result.Books, ParsedBook{
						Identifier: entry.BookIdentifier,
						Title:      entry.Title,
						Author:     entry.Author,
					})
				}
				result.Books[idx].EntryCount++
				result.Entries = append(result.Entries, *entry)
			}
		}
		block = block[:0]
		blockStart = lineNum + 1
	}

	rest := raw
	for len(rest) > 0 {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimSuffix(line, "\r")
		lineNum++

		if strings.TrimSpace(line) == entrySeparator {
			flush()
			continue
		}
		if len(block) == 0 && strings.TrimSpace(line) == "" {
			// blank lines between the separator and the title
			blockStart = lineNum + 1
			continue
		}
		block = append(block, line)
	}
	// Handle last entry if file doesn't end with separator
	flush()

	return result
}

func parseBlock(lines []string, blockNum, startLine int) (*ParsedEntry, *ParseError) {
	fail := func(reason string) *ParseError {
		return &ParseError{Block: blockNum, Line: startLine, Reason: reason, Snippet: snippet(lines)}
	}

	// First line: Title (Author) or just Title
	titleLine := strings.TrimSpace(strings.TrimPrefix(lines[0], "\ufeff"))
	if titleLine == "" || metadataPattern.MatchString(titleLine) {
		return nil, fail("missing title line")
	}
	if len(lines) < 2 {
		return nil, fail("missing metadata line")
	}

	title, author := ParseTitleAuthor(titleLine)
	if title == "" {
		return nil, fail("missing title")
	}

	// Second line: Metadata (type, page, location, date)
	metadataLine := strings.TrimSpace(lines[1])
	entryType, ok := parseEntryType(metadataLine)
	if !ok {
		return nil, fail(fmt.Sprintf("unrecognized metadata line %q", truncate(metadataLine, 80)))
	}

	entry := &ParsedEntry{
		BookIdentifier: BookIdentifier(title, author),
		Title:          title,
		Author:         author,
		Type:           entryType,
		Page:           parsePage(metadataLine),
		Location:       parseLocation(metadataLine),
		Timestamp:      parseDate(metadataLine),
		Content:        parseBody(lines[2:]),
		Block:          blockNum,
	}
	return entry, nil
}

// ParseTitleAuthor splits "Title (Author)" by stripping only the single
// outermost trailing parenthetical. Parentheses earlier in the title, and
// nested ones inside the author, are preserved verbatim. Without a trailing
// parenthetical the author is entities.UnknownAuthor.
func ParseTitleAuthor(line string) (title, author string) {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ")") {
		return line, entities.UnknownAuthor
	}

	depth := 0
	open := -1
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case ')':
			depth++
		case '(':
			depth--
		}
		if depth == 0 {
			open = i
			break
		}
	}
	if open <= 0 {
		// Unbalanced, or the whole line is one parenthetical.
		return line, entities.UnknownAuthor
	}

	title = strings.TrimSpace(line[:open])
	author = strings.TrimSpace(line[open+1 : len(line)-1])
	if title == "" {
		return line, entities.UnknownAuthor
	}
	if author == "" {
		author = entities.UnknownAuthor
	}
	return title, author
}

// BookIdentifier is the raw grouping key of a book before canonicalization.
func BookIdentifier(title, author string) string {
	return title + " (" + author + ")"
}

func parseEntryType(line string) (entities.EntryType, bool) {
	m := metadataPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "highlight":
		return entities.EntryTypeHighlight, true
	case "note":
		return entities.EntryTypeNote, true
	case "bookmark":
		return entities.EntryTypeBookmark, true
	}
	return "", false
}

func parsePage(line string) *int {
	m := pagePattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	page, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &page
}

func parseLocation(line string) *Location {
	m := locationPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	loc := &Location{Start: start}
	if m[2] != "" {
		if end, err := strconv.Atoi(m[2]); err == nil {
			loc.End = &end
		}
	}
	return loc
}

func parseDate(line string) *time.Time {
	m := addedOnPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	dateStr := strings.TrimSpace(m[1])
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return &t
		}
	}
	return nil
}

// parseBody returns everything after the first blank line, keeping internal
// newlines. Kindle always writes the blank line; if it is missing, the
// remaining lines are taken as the body anyway.
func parseBody(lines []string) string {
	start := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		start = 1
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func snippet(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return truncate(strings.TrimSpace(lines[0]), 80)
}

// truncate limits s to maxLen runes, cutting on a rune boundary.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
