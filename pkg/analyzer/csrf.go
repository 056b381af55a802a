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

// csrfTokenPattern matches hidden field names that carry an
// anti-forgery token (csrf_token, _token, csrfmiddlewaretoken,
// authenticity_token and the like).
var csrfTokenPattern = regexp.MustCompile(`csrf|_token|authenticity_token|xsrf|anti-forgery`)

// CSRF passively inspects state-changing forms for anti-forgery
// tokens. It sends no requests; GET forms are exempt.
type CSRF struct {
	log *logger.Logger
}

// NewCSRF creates a CSRF analyzer.
func NewCSRF(log *logger.Logger) *CSRF {
	if log == nil {
		log = logger.Global()
	}
	return &CSRF{log: log.WithAnalyzer("csrf")}
}

// Name implements Analyzer.
func (a *CSRF) Name() string { return "csrf" }

// Analyze flags every non-GET form lacking a hidden anti-forgery
// token field.
func (a *CSRF) Analyze(ctx context.Context, _ Session, site *scanner.SiteMap) (*Result, error) {
	start := time.Now()
	result := &Result{Analyzer: a.Name()}

	for _, endpointURL := range sortedEndpoints(site) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		endpoint := site.Endpoints[endpointURL]
		result.TestedEndpoints++

		for _, form := range endpoint.Forms {
			if form.Method == scanner.MethodGet {
				continue
			}

			a.log.Debugf("testing form %s %s", form.Method, form.Action.URL)

			if hasCSRFToken(form) {
				continue
			}

			param := form.ID
			if param == "" {
				param = "unknown"
			}

			vuln := a.buildFinding(form.Action.URL, param, string(form.Method))
			result.Vulnerabilities = append(result.Vulnerabilities, vuln)
			a.log.Warnf("vulnerability: %s %s has no CSRF protection", form.Method, form.Action.URL)
		}
	}

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found", len(result.Vulnerabilities))
	return result, nil
}

func (a *CSRF) buildFinding(url, param, method string) Vulnerability {
	return Vulnerability{
		Name: fmt.Sprintf("CSRF vulnerability in form %s %s", method, url),
		Description: fmt.Sprintf(
			"The %s form at %s does not implement CSRF protection. An "+
				"attacker can trick an authenticated user into submitting this "+
				"form without their knowledge, performing unauthorized actions "+
				"on their behalf.",
			method, url),
		Type:      TypeCSRF,
		Severity:  SeverityHigh,
		URL:       url,
		Parameter: param,
		Method:    method,
		Evidence:  "No CSRF token detected",
		CWE:       "CWE-352",
	}
}

// hasCSRFToken reports whether any hidden field name matches a known
// anti-forgery token pattern.
func hasCSRFToken(form scanner.Form) bool {
	for _, field := range form.Fields {
		if field.Type != scanner.FieldHidden {
			continue
		}
		if csrfTokenPattern.MatchString(strings.ToLower(field.Name)) {
			return true
		}
	}
	return false
}
