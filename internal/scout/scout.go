// Package scout discovers topics to write about. Feeds are scraped HTML
// pages described by CSS selectors; manual free-text topics bypass
// scraping entirely.
package scout

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/config"
	"github.com/cryptodefiza-create/content-machine/internal/models"
)

const userAgent = "content-machine/1.0"

// minTitleLen filters out nav fragments and section headers that match
// the item selector.
const minTitleLen = 10

// Options configure a Scanner. Zero values fall back to the same
// defaults the config layer applies.
type Options struct {
	Feeds         []config.Feed
	Delay         time.Duration
	MaxRetries    int
	BackoffFactor float64
	MaxItems      int
	Client        *http.Client
}

// Scanner scrapes configured feeds into deduplicated topics.
type Scanner struct {
	feeds         []config.Feed
	delay         time.Duration
	maxRetries    int
	backoffFactor float64
	maxItems      int
	client        *http.Client
	logger        *zap.Logger
	sleep         func(time.Duration)
	wait          func(ctx context.Context, d time.Duration) error
}

func NewScanner(opts Options, logger *zap.Logger) *Scanner {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = 2.0
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	feeds := make([]config.Feed, len(opts.Feeds))
	copy(feeds, opts.Feeds)
	sort.SliceStable(feeds, func(i, j int) bool { return feeds[i].Priority < feeds[j].Priority })

	return &Scanner{
		feeds:         feeds,
		delay:         opts.Delay,
		maxRetries:    opts.MaxRetries,
		backoffFactor: opts.BackoffFactor,
		maxItems:      opts.MaxItems,
		client:        opts.Client,
		logger:        logger,
		sleep:         time.Sleep,
		wait: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// SetClock swaps the politeness sleep and backoff wait, for tests.
func (s *Scanner) SetClock(sleep func(time.Duration), wait func(context.Context, time.Duration) error) {
	if sleep != nil {
		s.sleep = sleep
	}
	if wait != nil {
		s.wait = wait
	}
}

// Scan walks every feed in priority order. A feed that keeps failing is
// skipped, never fatal; the scan only errors when the context dies.
func (s *Scanner) Scan(ctx context.Context) ([]models.Topic, error) {
	var all []models.Topic

	for i, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && s.delay > 0 {
			s.sleep(s.delay)
		}

		topics, err := s.scanFeed(ctx, feed)
		if err != nil {
			s.logger.Warn("feed scan failed",
				zap.String("feed", feed.Name),
				zap.Error(err))
			continue
		}
		s.logger.Info("feed scanned",
			zap.String("feed", feed.Name),
			zap.Int("topics", len(topics)))
		all = append(all, topics...)
	}

	unique := dedupeTopics(all)
	if len(unique) > s.maxItems {
		unique = unique[:s.maxItems]
	}
	s.logger.Info("scan complete",
		zap.Int("unique", len(unique)),
		zap.Int("total", len(all)))
	return unique, nil
}

// FromText turns manual free-text lines into topics. Blank lines are
// dropped; duplicates collapse by content hash.
func FromText(lines []string) []models.Topic {
	topics := make([]models.Topic, 0, len(lines))
	for _, line := range lines {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		topics = append(topics, models.NewTopic(text, "manual", "manual"))
	}
	return dedupeTopics(topics)
}

func (s *Scanner) scanFeed(ctx context.Context, feed config.Feed) ([]models.Topic, error) {
	doc, err := s.fetchDocument(ctx, feed.URL)
	if err != nil {
		return nil, err
	}

	var topics []models.Topic
	doc.Find(feed.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(feed.TitleSelector).First().Text())
		if feed.TitleSelector == "" {
			title = strings.TrimSpace(item.Text())
		}
		if len(title) < minTitleLen {
			return
		}

		link := item.Find(feed.LinkSelector).First()
		href, _ := link.Attr("href")
		if href == "" {
			href, _ = item.Find("a").First().Attr("href")
		}

		topic := models.NewTopic(title, "news", feed.Name)
		topic.URL = href
		topics = append(topics, topic)
	})
	return topics, nil
}

func (s *Scanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(float64(s.delay+time.Second) * pow(s.backoffFactor, attempt-2))
			s.logger.Warn("retrying feed fetch",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			if err := s.wait(ctx, backoff); err != nil {
				return nil, err
			}
		}

		doc, err := s.fetchOnce(ctx, pageURL)
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Scanner) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func dedupeTopics(topics []models.Topic) []models.Topic {
	seen := map[string]struct{}{}
	out := make([]models.Topic, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t.ContentHash]; ok {
			continue
		}
		seen[t.ContentHash] = struct{}{}
		out = append(out, t)
	}
	return out
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
