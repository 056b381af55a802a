// Package analyzer implements vulnerability analyzers that run
// against a crawled site map: active probing (XSS, SQL injection,
// bruteforce protection), passive form inspection (CSRF) and
// configuration audits.
package analyzer

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/errors"
	"github.com/MikhailDrugie/se-attack-modeling/internal/metrics"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// Severity grades a finding.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of a severity, higher is worse.
func (s Severity) Rank() int {
	return severityRank[s]
}

// VulnType is a closed set of finding categories.
type VulnType string

// Finding categories.
const (
	TypeXSS        VulnType = "xss"
	TypeSQLi       VulnType = "sqli"
	TypeCSRF       VulnType = "csrf"
	TypeBruteforce VulnType = "bruteforce"
	TypeConfig     VulnType = "config"
	TypeSAST       VulnType = "sast"
)

// CWEUnknown is the fallback CWE identifier for findings without a
// specific mapping.
const CWEUnknown = "CWE-UNKNOWN"

// Vulnerability is a single confirmed finding.
type Vulnerability struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        VulnType `json:"type"`
	Severity    Severity `json:"severity"`
	URL         string   `json:"url"`
	Parameter   string   `json:"parameter,omitempty"`
	Method      string   `json:"method,omitempty"`
	Payload     string   `json:"payload,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
	CWE         string   `json:"cwe_id"`
}

// Result is the outcome of one analyzer run.
type Result struct {
	Analyzer        string          `json:"analyzer"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	TestedEndpoints int             `json:"tested_endpoints"`
	TotalRequests   int             `json:"total_requests"`
	Duration        time.Duration   `json:"duration"`
}

// BySeverity filters the findings down to one severity.
func (r *Result) BySeverity(s Severity) []Vulnerability {
	var out []Vulnerability
	for _, v := range r.Vulnerabilities {
		if v.Severity == s {
			out = append(out, v)
		}
	}
	return out
}

// ProbeResponse is the raw outcome of one probe request.
type ProbeResponse struct {
	Payload      string
	StatusCode   int
	Body         string
	Headers      http.Header
	ResponseTime time.Duration
}

// Session sends probe requests. GET requests carry params in the
// query string, POST requests as a urlencoded body.
type Session interface {
	Do(ctx context.Context, method, targetURL string, params map[string]string) (*ProbeResponse, error)
	Close()
}

// Analyzer inspects a site map and reports findings.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, session Session, site *scanner.SiteMap) (*Result, error)
}

// HTTPSession is the default Session backed by net/http. Certificate
// errors are ignored: scan targets routinely run self-signed TLS.
type HTTPSession struct {
	client *http.Client
}

// NewHTTPSession creates a session with the given per-request timeout.
func NewHTTPSession(timeout time.Duration) *HTTPSession {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSession{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Do sends a single probe request and drains the response body.
func (s *HTTPSession) Do(ctx context.Context, method, targetURL string, params map[string]string) (*ProbeResponse, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	var req *http.Request
	var err error

	switch strings.ToUpper(method) {
	case http.MethodGet:
		probeURL := targetURL
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(targetURL, "?") {
				sep = "&"
			}
			probeURL = targetURL + sep + values.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, errors.NewValidationError(targetURL, err.Error())
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		scanErr := errors.Categorize(err, targetURL)
		metrics.Global().RecordError(scanErr.Type.String())
		return nil, scanErr
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}

	elapsed := time.Since(start)
	metrics.Global().RecordRequest(resp.StatusCode, int64(len(body)), elapsed)

	return &ProbeResponse{
		StatusCode:   resp.StatusCode,
		Body:         body,
		Headers:      resp.Header,
		ResponseTime: elapsed,
	}, nil
}

// Close releases idle connections.
func (s *HTTPSession) Close() {
	s.client.CloseIdleConnections()
}

// sortedEndpoints returns endpoint URLs in deterministic order.
func sortedEndpoints(site *scanner.SiteMap) []string {
	urls := make([]string, 0, len(site.Endpoints))
	for u := range site.Endpoints {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
