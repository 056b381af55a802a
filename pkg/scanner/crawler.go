package scanner

import (
	"context"
	"sync"

	scanerrors "github.com/MikhailDrugie/se-attack-modeling/internal/errors"
	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/state"
	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// Crawler walks a target recursively, parses HTML pages and hands the
// accumulated pages and fetch results to the Mapper.
type Crawler struct {
	config  *Config
	fetcher *Fetcher
	spider  *Spider
	log     *logger.Logger

	// visited tracks fragment-free URLs. Claiming a URL is an atomic
	// insert-if-absent so concurrent branches never fetch it twice.
	visited *state.Set

	mu      sync.Mutex
	hashes  map[string]map[string]struct{} // stripped URL -> structure hashes
	pages   map[string]*Page
	results map[string]*FetchResult
}

// New creates a Crawler for the configured target.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config:  DefaultConfig(),
		hashes:  make(map[string]map[string]struct{}),
		pages:   make(map[string]*Page),
		results: make(map[string]*FetchResult),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	if c.log == nil {
		c.log = logger.NewDefault()
	}
	c.log = c.log.WithComponent("crawler")

	if c.fetcher == nil {
		c.fetcher = NewFetcher(c.config.Fetcher, c.log)
	}

	spider, err := NewSpider(c.config.Target, c.log)
	if err != nil {
		return nil, err
	}
	c.spider = spider
	c.visited = state.NewSet(10000)

	return c, nil
}

// Run crawls the target and returns the assembled site map.
func (c *Crawler) Run(ctx context.Context) (*SiteMap, error) {
	if c.config.Target == "" {
		return nil, scanerrors.NewValidationError("target", "no target configured")
	}

	c.log.Infof("starting crawl of %s (max depth %d)", c.config.Target, c.config.MaxDepth)

	c.processURL(ctx, c.config.Target, 0)

	if err := ctx.Err(); err != nil {
		return nil, scanerrors.Categorize(err, c.config.Target)
	}

	c.mu.Lock()
	pages := c.pages
	results := c.results
	c.mu.Unlock()

	c.log.Infof("crawl finished: %d pages, %d fetch results", len(pages), len(results))

	return NewMapper(c.config.Target).Build(pages, results), nil
}

// processURL fetches one URL, stores its result and recurses into
// same-origin links. Child links are crawled concurrently and awaited
// together.
func (c *Crawler) processURL(ctx context.Context, rawURL string, depth int) {
	if depth > c.config.MaxDepth || ctx.Err() != nil {
		return
	}

	urlClean := urlutil.Clean(rawURL)
	stripped := urlutil.StripQuery(rawURL)

	if !c.visited.TryAdd(urlClean) {
		return
	}

	result, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		// Transport failure: nothing to record, the URL is skipped.
		c.log.Debugf("skipping %s: %v", rawURL, err)
		return
	}

	if result.Kind != KindHTML {
		c.storeResult(urlClean, result)
		return
	}

	page, err := c.spider.Parse(result.Body, rawURL)
	if err != nil {
		c.log.ErrorEvent(err, rawURL, "parse")
		return
	}

	if !c.claimFingerprint(stripped, Fingerprint(page)) {
		// Same structure already seen on this endpoint: a template
		// rendering of a page we have. Drop it, don't follow links.
		c.log.Debugf("duplicate structure at %s for %s", stripped, rawURL)
		return
	}

	c.storePage(urlClean, stripped, page, result)

	var wg sync.WaitGroup
	for _, link := range page.Links {
		if !urlutil.SameOrigin(link.Raw, c.config.Target) {
			continue
		}
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			c.processURL(ctx, target, depth+1)
		}(link.Raw)
	}
	wg.Wait()
}

// claimFingerprint records a structure hash for an endpoint. It
// returns false when the hash was already present.
func (c *Crawler) claimFingerprint(stripped, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.hashes[stripped]
	if !ok {
		set = make(map[string]struct{})
		c.hashes[stripped] = set
	}
	if _, dup := set[hash]; dup {
		return false
	}
	set[hash] = struct{}{}
	return true
}

// storePage stores a page under its stripped URL the first time the
// endpoint is seen, and under the full fragment-free URL afterwards.
func (c *Crawler) storePage(urlClean, stripped string, page *Page, result *FetchResult) {
	key := urlClean
	if c.visited.TryAdd(stripped) {
		key = stripped
	}

	c.mu.Lock()
	c.pages[key] = page
	c.results[key] = result
	c.mu.Unlock()
}

func (c *Crawler) storeResult(key string, result *FetchResult) {
	c.mu.Lock()
	c.results[key] = result
	c.mu.Unlock()
}

// Visited returns the number of distinct URLs claimed so far.
func (c *Crawler) Visited() int {
	return c.visited.Count()
}

// Close releases the fetcher's connections.
func (c *Crawler) Close() {
	c.fetcher.Close()
}
