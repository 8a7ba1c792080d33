// Package process turns fetched HTML into the text, title and outbound links the crawler works with.
package process

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// NoTitle is the title recorded for pages without a <title>
const NoTitle = "No Title"

// strippedElements never contribute to extracted text
const strippedElements = "script, style, noscript, template"

// Extracted is the text view of one page
type Extracted struct {
	Title string
	Text  string // Visible text, whitespace collapsed
}

// ContentExtractor pulls title and visible text out of HTML. It holds no state.
type ContentExtractor struct{}

// NewContentExtractor returns a ContentExtractor
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// Extract parses body and returns its title and text
func (ContentExtractor) Extract(body []byte) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extracted{}, fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}

	title := collapseWhitespace(doc.Find("title").First().Text())
	if title == "" {
		title = NoTitle
	}

	doc.Find(strippedElements).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return Extracted{Title: title, Text: collapseWhitespace(root.Text())}, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
