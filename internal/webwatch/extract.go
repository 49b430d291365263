package webwatch

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// NoTitle is used when a page has neither <title> nor og:title.
	NoTitle = "No title found"

	// NoContent is used when a page has no usable paragraphs and no meta
	// description, which is typical for paywalled articles.
	NoContent = "Paywall detected, no content available"

	defaultMaxDigest = 500
)

// Page is the extracted content of a fetched document.
type Page struct {
	Title  string
	Digest string
}

// Extract parses an HTML document and builds its title and digest. maxDigest
// bounds the digest length before the ellipsis; non-positive selects 500.
func Extract(r io.Reader, maxDigest int) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, err
	}
	if maxDigest <= 0 {
		maxDigest = defaultMaxDigest
	}
	return Page{Title: title(doc), Digest: digest(doc, maxDigest)}, nil
}

func title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return NoTitle
}

func digest(doc *goquery.Document, maxLen int) string {
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		lower := strings.ToLower(text)
		if strings.Contains(lower, "sign up") || strings.Contains(lower, "login") {
			return
		}
		parts = append(parts, text)
	})
	if len(parts) > 0 {
		return Truncate(strings.Join(parts, " "), maxLen)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(desc)
	}
	return NoContent
}

// Truncate shortens s to at most maxLen runes, backing off to the last space
// so no word is cut, and appends "...". Text that fits is returned unchanged.
// Without any space in the first maxLen runes the hard cut is kept and no
// ellipsis is added.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := string(r[:maxLen])
	if i := strings.LastIndex(cut, " "); i > 0 {
		return cut[:i] + "..."
	}
	return cut
}
