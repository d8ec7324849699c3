package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	logx "terminbot/pkg/logx"
)

const (
	defaultTimeout   = 45 * time.Second
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// maxLocationPages bounds the pagination walk per location, in case the
	// source ever renders a broken "next" link loop.
	maxLocationPages = 20
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client reads the booking system anonymously. It keeps no state between
// calls and performs nothing but GET requests, so Fetch is safe to call
// repeatedly and has no side effects on the source.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.Timeout = timeout
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		cfg: cfg,
		// Per-request timeout; the whole fetch pass is additionally bounded by
		// the context deadline set in Fetch.
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// Fetch returns the current appointment listing: deduplicated on
// (location, date) and sorted by date ascending, ties by location. Failures
// are *Error values; all of them are transient.
func (c *Client) Fetch(ctx context.Context) ([]Appointment, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()

	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Op: "parse base url", Err: err}
	}

	doc, err := c.fetchDocument(ctx, base.String())
	if err != nil {
		return nil, err
	}

	locs := locationLinks(doc, base)
	if len(locs) == 0 {
		return nil, &Error{Kind: KindMalformed, Op: "entry page", Err: fmt.Errorf("no location links found")}
	}

	seen := map[Appointment]struct{}{}
	for _, loc := range locs {
		if err := c.collectLocation(ctx, loc, seen); err != nil {
			return nil, err
		}
	}

	out := make([]Appointment, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Location < out[j].Location
	})

	c.log.Debug("listing fetched",
		logx.Int("locations", len(locs)),
		logx.Int("appointments", len(out)),
		logx.Duration("took", time.Since(start)))
	return out, nil
}

type locationLink struct {
	name string
	url  string
}

// locationLinks extracts the per-Bürgeramt entry links from the start page.
func locationLinks(doc *goquery.Document, base *url.URL) []locationLink {
	var out []locationLink
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		text := normalizeLocation(s.Text())
		if !strings.Contains(text, "Bürgeramt") {
			return
		}
		href, _ := s.Attr("href")
		u := resolveHref(base, href)
		if u == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, locationLink{name: text, url: u})
	})
	return out
}

// collectLocation walks one location's calendar pages, following the
// "weitere Termine" navigation until it runs out.
func (c *Client) collectLocation(ctx context.Context, loc locationLink, seen map[Appointment]struct{}) error {
	pageURL := loc.url
	visited := map[string]struct{}{}

	for page := 0; page < maxLocationPages && pageURL != ""; page++ {
		if _, dup := visited[pageURL]; dup {
			return nil
		}
		visited[pageURL] = struct{}{}

		doc, err := c.fetchDocument(ctx, pageURL)
		if err != nil {
			return err
		}

		base, err := url.Parse(pageURL)
		if err != nil {
			return &Error{Kind: KindMalformed, Op: "location page", Err: err}
		}

		n := 0
		var badLink error
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			d, ok, err := dateFromHref(href)
			if err != nil {
				badLink = err
				return
			}
			if !ok {
				return
			}
			seen[Appointment{Location: loc.name, Date: d}] = struct{}{}
			n++
		})
		if badLink != nil {
			return &Error{Kind: KindMalformed, Op: "location page", Err: badLink}
		}
		c.log.Trace("location page parsed", logx.String("location", loc.name), logx.Int("dates", n))

		pageURL = nextPageURL(doc, base)
	}
	return nil
}

// dateFromHref extracts the slot date from an appointment link. The booking
// system encodes it in year/month/day query parameters; the link text is
// display-only and locale-dependent, so it is never parsed.
func dateFromHref(href string) (Date, bool, error) {
	u, err := url.Parse(href)
	if err != nil {
		return Date{}, false, nil
	}
	q := u.Query()
	ys, ms, ds := q.Get("year"), q.Get("month"), q.Get("day")
	if ys == "" || ms == "" || ds == "" {
		return Date{}, false, nil
	}
	y, err1 := strconv.Atoi(ys)
	m, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, false, fmt.Errorf("bad date parameters in %q", href)
	}
	if y < 2000 || y > 2200 || m < 1 || m > 12 || d < 1 || d > 31 {
		return Date{}, false, fmt.Errorf("implausible date in %q", href)
	}
	return NewDate(y, time.Month(m), d), true, nil
}

// nextPageURL finds the forward navigation button, if any. The system renders
// back/next as nat_navigation_button anchors; a lone button is "back".
func nextPageURL(doc *goquery.Document, base *url.URL) string {
	nav := doc.Find("a.nat_navigation_button")
	if nav.Length() < 2 {
		return ""
	}
	href, _ := nav.Last().Attr("href")
	return resolveHref(base, href)
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// fetchDocument GETs one page with bounded retries. Rate limiting and broken
// markup fail fast; network hiccups are retried a few times before the whole
// cycle is declared failed.
func (c *Client) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(&Error{Kind: KindUnreachable, Op: "build request", Err: err})
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml")
			req.Header.Set("Accept-Language", "de-DE,de;q=0.9")

			resp, err := c.http.Do(req)
			if err != nil {
				return &Error{Kind: KindUnreachable, Op: "get", Err: err}
			}
			defer func() { _ = resp.Body.Close() }()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return retry.Unrecoverable(&Error{Kind: KindRateLimited, Op: "get", Err: fmt.Errorf("HTTP %d", resp.StatusCode)})
			case resp.StatusCode != http.StatusOK:
				return &Error{Kind: KindUnreachable, Op: "get", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
			}

			d, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return retry.Unrecoverable(&Error{Kind: KindMalformed, Op: "parse", Err: err})
			}
			doc = d
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying page fetch", logx.String("url", pageURL), logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		// Context cancellation / deadline surfaces as unreachable.
		return nil, &Error{Kind: KindUnreachable, Op: "get", Err: err}
	}
	return doc, nil
}
