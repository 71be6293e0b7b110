package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/projects"
)

// Alert titles arrive as HTML fragments with <b> highlights.
var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// TextFetcher resolves full article text for feed entries, which only
// carry a link and a snippet.
type TextFetcher interface {
	ReadableText(ctx context.Context, pageURL string) (string, error)
}

// GoogleAlerts reads a project's alert RSS feed. Feeds are a single
// page: every fetch returns one Done page filtered to the window.
type GoogleAlerts struct {
	parser  *gofeed.Parser
	fetcher TextFetcher
	logger  zerolog.Logger
}

func NewGoogleAlerts(fetcher TextFetcher, logger zerolog.Logger) *GoogleAlerts {
	return &GoogleAlerts{
		parser:  gofeed.NewParser(),
		fetcher: fetcher,
		logger:  logger,
	}
}

func NewGoogleAlertsWithParser(parser *gofeed.Parser, fetcher TextFetcher, logger zerolog.Logger) *GoogleAlerts {
	return &GoogleAlerts{parser: parser, fetcher: fetcher, logger: logger}
}

func (g *GoogleAlerts) Name() string { return SourceGoogleAlerts }

func (g *GoogleAlerts) FetchPage(ctx context.Context, project projects.Project, window Window, _ Cursor) (Page, error) {
	if strings.TrimSpace(project.RSSURL) == "" {
		return Page{}, fmt.Errorf("google alerts: project %d has no rss_url", project.ID)
	}

	feed, err := g.parser.ParseURLWithContext(project.RSSURL, ctx)
	if err != nil {
		return Page{}, Transient(SourceGoogleAlerts, fmt.Errorf("parse feed: %w", err))
	}

	page := Page{Done: true}
	for _, item := range feed.Items {
		published := itemPublished(item)
		if published != nil && (published.Before(window.Start) || published.After(window.End)) {
			continue
		}

		link := unwrapAlertLink(item.Link)
		raw := RawStory{
			SourceStoryID: itemID(item, link),
			URL:           link,
			Title:         cleanFeedTitle(item.Title),
			PublishedAt:   published,
			Language:      project.Language,
			MediaName:     domainOf(link),
		}

		if g.fetcher != nil {
			text, err := g.fetcher.ReadableText(ctx, link)
			if err != nil {
				// Extraction failure is routine (paywalls, bot
				// blockers); the snippet still gives the
				// classifier something to chew on.
				g.logger.Debug().Err(err).Str("url", link).Msg("alert text extraction failed")
				text = cleanFeedTitle(item.Description)
			}
			raw.Text = text
		}

		page.Stories = append(page.Stories, raw)
	}
	return page, nil
}

// unwrapAlertLink strips the Google redirect wrapper and returns the
// destination URL.
func unwrapAlertLink(link string) string {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return link
	}
	if target := parsed.Query().Get("url"); target != "" {
		return target
	}
	return link
}

func itemID(item *gofeed.Item, fallback string) string {
	if strings.TrimSpace(item.GUID) != "" {
		return strings.TrimSpace(item.GUID)
	}
	return fallback
}

func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		utc := item.PublishedParsed.UTC()
		return &utc
	}
	if item.UpdatedParsed != nil {
		utc := item.UpdatedParsed.UTC()
		return &utc
	}
	return nil
}

func cleanFeedTitle(title string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(title, ""))
}

func domainOf(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
