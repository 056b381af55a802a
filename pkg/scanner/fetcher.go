package scanner

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	scanerrors "github.com/MikhailDrugie/se-attack-modeling/internal/errors"
	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/metrics"
	"github.com/MikhailDrugie/se-attack-modeling/internal/ratelimit"
	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// FetcherConfig holds fetcher settings.
type FetcherConfig struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	MinDelay      time.Duration `json:"min_delay" yaml:"min_delay"`
	UserAgent     string        `json:"user_agent" yaml:"user_agent"`
	MaxBodySize   int64         `json:"max_body_size" yaml:"max_body_size"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultFetcherConfig returns the default fetcher settings.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:       10 * time.Second,
		MaxConcurrent: 10,
		MinDelay:      100 * time.Millisecond,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		MaxBodySize:   5 * 1024 * 1024,
		MaxRetries:    2,
	}
}

// Fetcher retrieves URLs with bounded concurrency and pacing, and
// classifies the response content.
type Fetcher struct {
	client  *http.Client
	cfg     FetcherConfig
	sem     chan struct{}
	limiter *ratelimit.Limiter
	retrier *scanerrors.Retrier
	stats   *metrics.Collector
	log     *logger.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, log *logger.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.NewDefault()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxConcurrent * 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // scan targets often run self-signed certs
		},
		ForceAttemptHTTP2: true,
	}

	retryConfig := scanerrors.DefaultRetryConfig()
	retryConfig.MaxRetries = cfg.MaxRetries
	retryConfig.InitialDelay = 200 * time.Millisecond
	retryConfig.MaxDelay = 2 * time.Second

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		limiter: ratelimit.NewLimiter(float64(cfg.MaxConcurrent)*10, cfg.MaxConcurrent, cfg.MinDelay),
		retrier: scanerrors.NewRetrier(retryConfig),
		stats:   metrics.Global(),
		log:     log.WithComponent("fetcher"),
	}
}

// Fetch retrieves a URL. A non-2xx response still produces a
// FetchResult (KindUnknown, body retained). Transport failures return
// a categorized error and no result; the caller skips the URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, scanerrors.Categorize(ctx.Err(), rawURL)
	}
	defer func() { <-f.sem }()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, scanerrors.Categorize(err, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, scanerrors.NewValidationError(rawURL, "invalid request URL")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	// Transient transport failures are retried with backoff; HTTP error
	// statuses are results, not errors, and pass through untouched.
	var resp *http.Response
	var elapsed time.Duration
	attempt := f.retrier.Do(ctx, "fetch", rawURL, func(ctx context.Context) error {
		start := time.Now()
		r, doErr := f.client.Do(req)
		elapsed = time.Since(start)
		if doErr != nil {
			return scanerrors.Categorize(doErr, rawURL)
		}
		resp = r
		return nil
	})
	if attempt.Attempts > 1 {
		for i := 1; i < attempt.Attempts; i++ {
			f.stats.RecordRetry()
		}
	}
	if !attempt.Success {
		scanErr := scanerrors.Categorize(attempt.LastError, rawURL)
		f.stats.RecordError(scanErr.Type.String())
		f.log.Debugf("fetch failed for %s: %v", rawURL, scanErr)
		return nil, scanErr
	}
	defer resp.Body.Close()

	contentTypeHeader := resp.Header.Get("Content-Type")
	mime := mimeType(contentTypeHeader)

	body, readErr := f.readBody(resp.Body, contentTypeHeader)
	if readErr != nil {
		scanErr := scanerrors.Categorize(readErr, rawURL)
		f.stats.RecordError(scanErr.Type.String())
		return nil, scanErr
	}

	f.stats.RecordRequest(resp.StatusCode, int64(len(body)), elapsed)
	f.log.RequestEvent(http.MethodGet, rawURL, resp.StatusCode, elapsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchResult{
			URL:          rawURL,
			StatusCode:   resp.StatusCode,
			Kind:         KindUnknown,
			Body:         body,
			Headers:      resp.Header,
			ResponseTime: elapsed,
		}, nil
	}

	return &FetchResult{
		URL:          rawURL,
		StatusCode:   resp.StatusCode,
		ContentType:  mime,
		Kind:         ClassifyContent(mime, rawURL),
		Body:         body,
		Headers:      resp.Header,
		ResponseTime: elapsed,
	}, nil
}

// readBody reads a capped, charset-decoded response body.
func (f *Fetcher) readBody(r io.Reader, contentTypeHeader string) (string, error) {
	limited := io.LimitReader(r, f.cfg.MaxBodySize)
	decoded, err := charset.NewReader(limited, contentTypeHeader)
	if err != nil {
		// Undetectable charset, fall back to raw bytes.
		raw, rawErr := io.ReadAll(limited)
		return string(raw), rawErr
	}
	data, err := io.ReadAll(decoded)
	return string(data), err
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// mimeType extracts the media type from a Content-Type header value.
func mimeType(header string) string {
	return strings.TrimSpace(strings.ToLower(strings.SplitN(header, ";", 2)[0]))
}

// ClassifyContent maps a MIME type and URL to a ContentKind. The URL
// extension is consulted only when the MIME type is inconclusive.
func ClassifyContent(mime, rawURL string) ContentKind {
	switch {
	case strings.Contains(mime, "text/html"), strings.Contains(mime, "application/xhtml"):
		return KindHTML
	case strings.Contains(mime, "application/json"):
		return KindJSON
	case strings.HasPrefix(mime, "image/"):
		return KindStaticImage
	case mime == "application/pdf", mime == "application/zip",
		mime == "text/plain", mime == "application/javascript", mime == "text/css":
		return KindStaticFile
	}

	switch urlutil.Extension(rawURL) {
	case ".jpg", ".png", ".gif", ".svg", ".webp":
		return KindStaticImage
	case ".js", ".css", ".pdf", ".txt", ".xml":
		return KindStaticFile
	}
	return KindUnknown
}
