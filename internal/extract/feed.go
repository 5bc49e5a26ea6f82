package extract

import (
	"leaklook/internal/model"

	"github.com/mmcdole/gofeed"
)

// Feed extracts posts from RSS/Atom content, used for social-account sources
// that expose a syndication endpoint.
type Feed struct{}

func (Feed) Extract(content string) ([]model.Candidate, error) {
	feed, err := gofeed.NewParser().ParseString(content)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(feed.Items))
	for _, it := range feed.Items {
		token := it.GUID
		if token == "" {
			token = it.Link
		}
		out = append(out, model.Candidate{
			Title:       it.Title,
			Description: it.Description,
			Link:        it.Link,
			OriginToken: token,
		})
	}
	return out, nil
}
