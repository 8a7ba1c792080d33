package process

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// LinkExtractor finds crawlable outbound links in HTML
type LinkExtractor struct {
	allowedDomains []string // Empty allows every host
	log            *logrus.Entry
}

// NewLinkExtractor returns an extractor that keeps links on allowedDomains (or everywhere if empty)
func NewLinkExtractor(allowedDomains []string, log *logrus.Entry) *LinkExtractor {
	return &LinkExtractor{allowedDomains: allowedDomains, log: log}
}

// Extract returns the absolute http(s) links of body, resolved against base (or the page's <base href>),
// in document order with duplicates (by normalized form) removed
func (le *LinkExtractor) Extract(body []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		linkURL, err := base.Parse(href)
		if err != nil {
			le.log.Debugf("Skipping invalid link href '%s': %v", href, err)
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		if !parse.HostAllowed(linkURL.Hostname(), le.allowedDomains) {
			return
		}
		linkURL.Fragment = ""
		abs := linkURL.String()
		normalized, _, err := parse.ParseAndNormalize(abs)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}
