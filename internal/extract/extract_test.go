package extract

import (
	"errors"
	"testing"

	"leaklook/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticExtractor struct {
	cands []model.Candidate
	err   error
	panic bool
}

func (s staticExtractor) Extract(string) ([]model.Candidate, error) {
	if s.panic {
		panic("boom")
	}
	return s.cands, s.err
}

func TestExtractUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract("lockbit3", "tok", "<html></html>")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestExtractCaseSensitiveLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("lockbit3", staticExtractor{})
	_, err := r.Extract("LockBit3", "tok", "")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestExtractContractEnforcement(t *testing.T) {
	r := NewRegistry()
	r.Register("play", staticExtractor{cands: []model.Candidate{
		{Title: "Acme", Link: "http://x/acme"},
		{Title: "", Link: "http://x/missing-title"},
		{Title: "No Link"},
		{Title: "Globex", Link: "http://x/globex", OriginToken: "own-token"},
	}})
	res, err := r.Extract("play", "play-index.html", "")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 2, res.Skipped)
	// Origin token defaults to the content unit identifier.
	assert.Equal(t, "play-index.html", res.Candidates[0].OriginToken)
	// An extractor-provided token is preserved.
	assert.Equal(t, "own-token", res.Candidates[1].OriginToken)
}

func TestExtractRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("bad", staticExtractor{panic: true})
	_, err := r.Extract("bad", "tok", "")
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractWrapsRoutineError(t *testing.T) {
	r := NewRegistry()
	r.Register("bad", staticExtractor{err: errors.New("unparseable")})
	_, err := r.Extract("bad", "tok", "")
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestSelectorExtractor(t *testing.T) {
	html := `
<html><body>
  <article>
    <h2 class="entry-title">Acme Corp</h2>
    <div class="entry-content">120GB of finance data</div>
    <a href="http://a.onion/acme">details</a>
  </article>
  <article>
    <h2 class="entry-title">Globex</h2>
    <div class="entry-content"></div>
    <a href="http://a.onion/globex">details</a>
  </article>
  <article>
    <div class="entry-content">entry without a title</div>
  </article>
</body></html>`

	r := NewRegistry()
	r.Register("medusalocker", Selector{
		Entry:       "article",
		Title:       "h2.entry-title",
		Description: "div.entry-content",
		Link:        "a",
	})
	res, err := r.Extract("medusalocker", "medusalocker-a.html", html)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Acme Corp", res.Candidates[0].Title)
	assert.Equal(t, "120GB of finance data", res.Candidates[0].Description)
	assert.Equal(t, "http://a.onion/acme", res.Candidates[0].Link)
	assert.Equal(t, "Globex", res.Candidates[1].Title)
	assert.Empty(t, res.Candidates[1].Description)
}

func TestFeedExtractor(t *testing.T) {
	rss := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <title>leak feed</title>
  <item>
    <title>New dump posted</title>
    <link>http://social.example/post/1</link>
    <guid>post-1</guid>
    <description>fresh dump</description>
  </item>
  <item>
    <title>Another post</title>
    <link>http://social.example/post/2</link>
  </item>
</channel></rss>`

	cands, err := Feed{}.Extract(rss)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "New dump posted", cands[0].Title)
	assert.Equal(t, "post-1", cands[0].OriginToken)
	assert.Equal(t, "http://social.example/post/2", cands[1].OriginToken)
}

func TestChatExtractor(t *testing.T) {
	dump := `[
  {"id": 101, "text": "new victim: acme corp\nfull dump friday", "link": "http://t.example/101"},
  {"id": 102, "text": ""},
  {"id": 103, "text": "single line"}
]`
	cands, err := Chat{}.Extract(dump)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "new victim: acme corp", cands[0].Title)
	assert.Equal(t, "new victim: acme corp\nfull dump friday", cands[0].Description)
	assert.Equal(t, "101", cands[0].OriginToken)
	assert.Equal(t, "single line", cands[1].Title)

	_, err = Chat{}.Extract("not json")
	require.Error(t, err)
}
