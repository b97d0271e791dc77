package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeEncoding detects body's charset and transcodes it to UTF-8,
// per spec.md §4.4's text validation step. A body that's already valid
// UTF-8 is returned unchanged.
func normalizeEncoding(body []byte) ([]byte, error) {
	detector := chardet.NewHtmlDetector()
	result, err := detector.DetectBest(body)
	if err != nil || result == nil || strings.EqualFold(result.Charset, "utf-8") {
		return body, nil
	}

	enc, err := htmlindex.Get(result.Charset)
	if err != nil {
		return body, nil // Unknown label: keep the raw bytes rather than fail the whole extraction.
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body, nil
	}
	return decoded, nil
}

// sanitizeText strips NUL bytes, unescapes HTML entities, drops
// non-printable runes other than newline and tab, and trims leading and
// trailing whitespace; interior whitespace runs are kept as they are.
func sanitizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\x00", "")
	raw = html.UnescapeString(raw)
	raw = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			return r
		}
		return -1
	}, raw)
	return strings.TrimSpace(raw)
}

// contentHash computes spec.md §4.1's content_hash: SHA-256 of the
// whitespace-normalized, lowercased extracted text, used for
// cross-source duplicate detection.
func contentHash(text string) string {
	normalized := strings.ToLower(whitespaceRun.ReplaceAllString(text, " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// wordCount is a simple whitespace-delimited count, used for both the
// MinTextLength floor (on character length, not this) and the
// ArticleRecord.WordCount field.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

