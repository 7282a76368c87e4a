package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/client"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lms_pagination_pages_fetched_total",
		Help: "Total pages read by the paginated fetcher",
	})

	truncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lms_pagination_truncated_total",
		Help: "Fetches stopped by the page cap while a next link remained",
	})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_pagination_results_total",
		Help: "Fetch results by kind",
	}, []string{"kind"})
)

// DefaultMaxPages bounds every fetch unless configured otherwise.
const DefaultMaxPages = 50

// Upstream is the part of the LMS client the fetcher needs.
type Upstream interface {
	Get(ctx context.Context, path string) (*http.Response, error)
	RelativePath(absolute string) (string, bool)
}

// Config holds fetcher configuration.
type Config struct {
	// MaxPages applies when Options.MaxPages is not set.
	MaxPages int
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{MaxPages: DefaultMaxPages}
}

// Options tune one Fetch call.
type Options struct {
	// SilentErrors turns every failure, 403 included, into an empty list.
	SilentErrors bool

	// MaxPages caps the number of pages read (0 = fetcher default).
	MaxPages int

	// PageSize enables the short page early stop (0 = per_page from the path).
	PageSize int
}

// Fetcher walks Link header pagination. It is safe for concurrent use.
type Fetcher struct {
	upstream Upstream
	config   Config
	logger   zerolog.Logger
}

// NewFetcher creates a new paginated fetcher.
func NewFetcher(upstream Upstream, cfg Config) *Fetcher {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	return &Fetcher{
		upstream: upstream,
		config:   cfg,
		logger:   logging.NewLogger(logging.ComponentPagination),
	}
}

// Fetch reads path and every following page.
//
// A 403 yields Denied with a nil error. Any other failure yields Failed and
// a non-nil error. With SilentErrors both become an empty Items result.
func (f *Fetcher) Fetch(ctx context.Context, path string, opts Options) (Result, error) {
	start := time.Now()

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = f.config.MaxPages
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = perPage(path)
	}

	items := []Item{}
	visited := map[string]bool{path: true}
	next := path
	pages := 0
	truncated := false

	for {
		pg, err := f.fetchPage(ctx, next)
		if err != nil {
			return f.failure(path, err, opts)
		}
		pages++
		pagesFetchedTotal.Inc()

		if pg.object != nil {
			if pages == 1 {
				resultsTotal.WithLabelValues(KindSingle.String()).Inc()
				return Single(pg.object), nil
			}
			f.logger.Warn().
				Str("path", path).
				Int("page", pages).
				Msg("Non-array page inside a paginated list, stopping")
			break
		}

		items = append(items, pg.items...)

		if pg.size == 0 || (pageSize > 0 && pg.size < pageSize) {
			break
		}

		nextPath, ok := f.nextPath(pg.link)
		if !ok {
			break
		}
		if pages >= maxPages {
			truncated = true
			truncatedTotal.Inc()
			f.logger.Warn().
				Str("path", path).
				Int("max_pages", maxPages).
				Msg("Page cap reached, remaining pages skipped")
			break
		}
		if visited[nextPath] {
			f.logger.Warn().
				Str("path", path).
				Str("next", nextPath).
				Msg("Next link points to a page already read, stopping")
			break
		}
		visited[nextPath] = true
		next = nextPath
	}

	resultsTotal.WithLabelValues(KindItems.String()).Inc()
	f.logger.Debug().
		Str("path", path).
		Int("pages", pages).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	r := Items(items)
	r.Pages = pages
	r.Truncated = truncated
	return r, nil
}

// page is one decoded response. object is set when the body is a single
// JSON object; size counts the raw array elements, objects or not.
type page struct {
	items  []Item
	object Item
	link   string
	size   int
}

// fetchPage performs one request and decodes its body.
func (f *Fetcher) fetchPage(ctx context.Context, path string) (page, error) {
	resp, err := f.upstream.Get(ctx, path)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return page{}, errDenied
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page{}, client.NewStatusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return page{}, fmt.Errorf("decode %s: %w", path, err)
	}

	link := resp.Header.Get("Link")

	switch v := raw.(type) {
	case []any:
		p := page{items: make([]Item, 0, len(v)), link: link, size: len(v)}
		for _, el := range v {
			if obj, ok := el.(map[string]any); ok {
				p.items = append(p.items, obj)
			}
		}
		if dropped := p.size - len(p.items); dropped > 0 {
			f.logger.Debug().
				Str("path", path).
				Int("dropped", dropped).
				Msg("Skipped non-object array elements")
		}
		return p, nil
	case map[string]any:
		return page{object: v, link: link}, nil
	default:
		return page{}, fmt.Errorf("decode %s: unexpected body type %T", path, raw)
	}
}

// nextPath resolves the Link header to a path under the upstream base URL.
func (f *Fetcher) nextPath(link string) (string, bool) {
	abs, ok := ParseNextLink(link)
	if !ok {
		if link != "" {
			f.logger.Debug().Str("link", link).Msg("No usable next link")
		}
		return "", false
	}

	rel, ok := f.upstream.RelativePath(abs)
	if !ok {
		f.logger.Warn().Str("next", abs).Msg("Next link outside the upstream base URL, stopping")
		return "", false
	}
	return rel, true
}

var errDenied = errors.New("upstream returned 403")

func (f *Fetcher) failure(path string, err error, opts Options) (Result, error) {
	denied := errors.Is(err, errDenied)

	if opts.SilentErrors {
		f.logger.Debug().
			Err(err).
			Str("path", path).
			Msg("Fetch failed, returning empty list (silent)")
		resultsTotal.WithLabelValues(KindItems.String()).Inc()
		return Items(nil), nil
	}

	if denied {
		resultsTotal.WithLabelValues(KindDenied.String()).Inc()
		return Denied(), nil
	}

	resultsTotal.WithLabelValues(KindFailed.String()).Inc()
	return Failed(client.StatusCode(err), err.Error()), fmt.Errorf("fetch %s: %w", path, err)
}

// perPage reads the per_page query value of path, or 0.
func perPage(path string) int {
	_, rawQuery, ok := strings.Cut(path, "?")
	if !ok {
		return 0
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(values.Get("per_page"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
