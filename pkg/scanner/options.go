package scanner

import (
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithTarget sets the base URL to crawl.
func WithTarget(url string) Option {
	return func(c *Crawler) error {
		c.config.Target = url
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) error {
		if depth < 0 {
			depth = 0
		}
		c.config.MaxDepth = depth
		return nil
	}
}

// WithConcurrency sets the maximum number of in-flight requests.
func WithConcurrency(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.Fetcher.MaxConcurrent = n
		return nil
	}
}

// WithRequestDelay sets the minimum interval between requests.
func WithRequestDelay(d time.Duration) Option {
	return func(c *Crawler) error {
		if d < 0 {
			d = 0
		}
		c.config.Fetcher.MinDelay = d
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Fetcher.Timeout = timeout
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) error {
		c.config.Fetcher.UserAgent = ua
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.log = l
		return nil
	}
}

// WithFetcher sets a custom fetcher. Used mostly by tests.
func WithFetcher(f *Fetcher) Option {
	return func(c *Crawler) error {
		c.fetcher = f
		return nil
	}
}

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		c.config = config
		return nil
	}
}
