package extract

import (
	"strings"

	"leaklook/internal/model"

	"github.com/PuerkitoBio/goquery"
)

// Selector extracts leak posts from HTML using per-source CSS selectors.
// Entry selects the repeating element; the remaining selectors are evaluated
// inside each entry. Entries that fail to parse are skipped, never fatal.
type Selector struct {
	Entry       string
	Title       string
	Description string
	Link        string
}

func (s Selector) Extract(content string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	var out []model.Candidate
	doc.Find(s.Entry).Each(func(_ int, sel *goquery.Selection) {
		var c model.Candidate
		if s.Title != "" {
			c.Title = strings.TrimSpace(sel.Find(s.Title).First().Text())
		}
		if s.Description != "" {
			c.Description = strings.TrimSpace(sel.Find(s.Description).First().Text())
		}
		if s.Link != "" {
			link := sel.Find(s.Link).First()
			if href, ok := link.Attr("href"); ok {
				c.Link = strings.TrimSpace(href)
			} else {
				c.Link = strings.TrimSpace(link.Text())
			}
		}
		out = append(out, c)
	})
	return out, nil
}
