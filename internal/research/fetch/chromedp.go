package fetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/alfhq/alf/internal/research"
)

// ChromeFetcher renders the page in a headless browser before extraction,
// for sites that only produce content client-side.
type ChromeFetcher struct {
	Timeout time.Duration
}

func (f *ChromeFetcher) Fetch(ctx context.Context, rawURL string) (research.SourceDocument, error) {
	if strings.TrimSpace(rawURL) == "" {
		return research.SourceDocument{}, errors.New("invalid url")
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := renderHTML(ctx, rawURL)
	if err != nil {
		return research.SourceDocument{}, err
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return research.SourceDocument{}, err
	}
	doc := research.SourceDocument{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  strings.TrimSpace(article.TextContent),
	}
	if article.PublishedTime != nil {
		doc.Date = article.PublishedTime.Format(time.RFC3339)
	}
	return doc, nil
}

func renderHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("ALFResearchBot/1.0 (+https://github.com/alfhq/alf)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
