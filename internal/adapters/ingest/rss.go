package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
)

const (
	defaultUserAgent    = "transferwire/1.0"
	defaultHostInterval = 2 * time.Second
	defaultHostBurst    = 1
	maxSignalText       = 1000
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// RSSFetcher reads RSS and Atom feeds. Requests to one host are rate limited
// and signal ids are derived from the item GUID, so repeated polls of the same
// feed yield the same ids.
type RSSFetcher struct {
	client    *http.Client
	userAgent string
	every     rate.Limit
	burst     int
	now       func() time.Time
	log       logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RSSOption configures an RSSFetcher.
type RSSOption func(*RSSFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) RSSOption {
	return func(f *RSSFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) RSSOption {
	return func(f *RSSFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHostRate allows one request per interval to a host, with burst.
// A zero interval disables limiting.
func WithHostRate(interval time.Duration, burst int) RSSOption {
	return func(f *RSSFetcher) {
		if interval <= 0 {
			f.every = rate.Inf
		} else {
			f.every = rate.Every(interval)
		}
		if burst > 0 {
			f.burst = burst
		}
	}
}

// WithFetchClock sets the clock used when an item has no timestamp.
func WithFetchClock(now func() time.Time) RSSOption {
	return func(f *RSSFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l logger.Logger) RSSOption {
	return func(f *RSSFetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// NewRSSFetcher returns a feed fetcher.
func NewRSSFetcher(opts ...RSSOption) *RSSFetcher {
	f := &RSSFetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: defaultUserAgent,
		every:     rate.Every(defaultHostInterval),
		burst:     defaultHostBurst,
		now:       time.Now,
		log:       logger.Nop(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RSSFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.every, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Fetch downloads and parses the source feed. Network failures, 5xx and 429
// responses are transient.
func (f *RSSFetcher) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	const op = "ingest.rss"
	if src.FeedURL == "" {
		return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("%w: %s", ErrNoFeedURL, src.ID))
	}
	u, err := url.Parse(src.FeedURL)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("parse feed url: %w", err))
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("rate limit %s: %w", u.Host, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, errs.Wrap(op, errs.KindIngestion, err)
		}
		return nil, errs.Transient(op, errs.KindIngestion, fmt.Errorf("fetch %s: %w", src.ID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %s returned %d", ErrHTTPStatus, src.ID, resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errs.Transient(op, errs.KindIngestion, err)
		}
		return nil, errs.Wrap(op, errs.KindIngestion, err)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("parse feed %s: %w", src.ID, err))
	}

	fetched := f.now()
	out := make([]model.Signal, 0, len(feed.Items))
	for _, item := range feed.Items {
		sig, ok := itemSignal(src, item, fetched)
		if !ok {
			continue
		}
		out = append(out, sig)
	}
	f.log.Debug(ctx, "feed fetched",
		logger.String("source_id", src.ID),
		logger.Int("items", len(feed.Items)),
		logger.Int("signals", len(out)),
	)
	return out, nil
}

func itemSignal(src model.Source, item *gofeed.Item, fetched time.Time) (model.Signal, bool) {
	text := plainText(item.Title)
	if desc := plainText(item.Description); desc != "" && desc != text {
		text = strings.TrimSpace(text + ". " + desc)
	}
	if text == "" {
		return model.Signal{}, false
	}
	if r := []rune(text); len(r) > maxSignalText {
		text = string(r[:maxSignalText])
	}

	observed := fetched
	switch {
	case item.PublishedParsed != nil:
		observed = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		observed = *item.UpdatedParsed
	}

	return model.Signal{
		ID:         ItemID(src.ID, itemKey(item)),
		SourceID:   src.ID,
		Text:       text,
		ObservedAt: observed.UTC(),
	}, true
}

func itemKey(item *gofeed.Item) string {
	switch {
	case item.GUID != "":
		return item.GUID
	case item.Link != "":
		return item.Link
	case item.PublishedParsed != nil:
		return item.Title + "|" + item.PublishedParsed.UTC().Format(time.RFC3339)
	default:
		return item.Title
	}
}

// ItemID derives a stable signal id from a source and an item key.
func ItemID(sourceID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID+"\x00"+key)).String()
}

func plainText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
