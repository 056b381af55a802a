package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// defaultBruteAttempts is how many failed logins are sent before the
// form is declared unprotected.
const defaultBruteAttempts = 8

// identifierKeywords mark a field holding the login identifier.
var identifierKeywords = []string{"username", "email", "login", "user"}

// captchaKeywords mark a form as CAPTCHA-protected.
var captchaKeywords = []string{"captcha", "recaptcha", "g-recaptcha", "h-captcha", "hcaptcha"}

// lockoutPhrases indicate the target blocked further attempts.
var lockoutPhrases = []string{
	"too many attempts",
	"account locked",
	"account disabled",
	"temporarily blocked",
	"try again later",
	"rate limit exceeded",
	"suspicious activity",
}

// Bruteforce checks login forms for missing rate limiting: it sends a
// burst of failed logins and expects the target to block them.
type Bruteforce struct {
	Attempts int
	Delay    time.Duration
	log      *logger.Logger
}

// NewBruteforce creates a bruteforce-protection analyzer.
func NewBruteforce(log *logger.Logger) *Bruteforce {
	if log == nil {
		log = logger.Global()
	}
	return &Bruteforce{
		Attempts: defaultBruteAttempts,
		Delay:    defaultProbeDelay,
		log:      log.WithAnalyzer("bruteforce"),
	}
}

// Name implements Analyzer.
func (a *Bruteforce) Name() string { return "bruteforce" }

// Analyze tests every login form without CAPTCHA protection.
func (a *Bruteforce) Analyze(ctx context.Context, session Session, site *scanner.SiteMap) (*Result, error) {
	start := time.Now()
	result := &Result{Analyzer: a.Name()}

	for _, endpointURL := range sortedEndpoints(site) {
		endpoint := site.Endpoints[endpointURL]
		result.TestedEndpoints++

		for _, form := range endpoint.Forms {
			if !isLoginForm(form) {
				continue
			}

			a.log.Infof("found login form: %s %s", form.Method, form.Action.URL)

			if hasCaptcha(form) {
				a.log.Info("CAPTCHA detected, form is protected")
				continue
			}

			blocked, attempts, err := a.testRateLimiting(ctx, session, form, result)
			if err != nil {
				return result, err
			}

			if blocked {
				a.log.Infof("bruteforce protection detected on %s", form.Action.URL)
				continue
			}

			param := form.ID
			if param == "" {
				param = "login_form"
			}

			vuln := a.buildFinding(form.Action.URL, param, string(form.Method), attempts)
			result.Vulnerabilities = append(result.Vulnerabilities, vuln)
			a.log.Warnf("vulnerability: %s has no bruteforce protection", form.Action.URL)
		}
	}

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found", len(result.Vulnerabilities))
	return result, nil
}

// testRateLimiting submits failed logins until the target blocks or
// the attempt budget runs out. Blocking is an HTTP 429 or a lockout
// phrase in the response.
func (a *Bruteforce) testRateLimiting(ctx context.Context, session Session, form scanner.Form, result *Result) (blocked bool, attempts int, err error) {
	a.log.Infof("testing rate limiting with %d attempts", a.Attempts)

	for i := 0; i < a.Attempts; i++ {
		data := form.Values()
		for _, field := range form.Fields {
			name := strings.ToLower(field.Name)
			switch {
			case strings.Contains(name, "password") || strings.Contains(name, "pass"):
				data[field.Name] = fmt.Sprintf("wrong_password_%d", i)
			case containsAny(name, identifierKeywords):
				data[field.Name] = "test_user"
			}
		}

		resp, err := session.Do(ctx, string(form.Method), form.Action.URL, data)
		if err != nil {
			if ctx.Err() != nil {
				return false, attempts, ctx.Err()
			}
			continue
		}
		result.TotalRequests++
		attempts++

		if resp.StatusCode == http.StatusTooManyRequests {
			a.log.Infof("rate limiting detected: HTTP 429 after %d attempts", attempts)
			return true, attempts, nil
		}
		if hasLockoutIndicator(resp.Body) {
			a.log.Infof("account lockout detected after %d attempts", attempts)
			return true, attempts, nil
		}

		if err := sleep(ctx, a.Delay); err != nil {
			return false, attempts, err
		}
	}

	return false, attempts, nil
}

func (a *Bruteforce) buildFinding(url, param, method string, attempts int) Vulnerability {
	return Vulnerability{
		Name: fmt.Sprintf("Missing Bruteforce Protection on %s", url),
		Description: fmt.Sprintf(
			"The authentication form %s %s does not implement protection "+
				"against bruteforce attacks: %d failed login attempts were sent "+
				"without triggering rate limiting, CAPTCHA or account lockout. "+
				"An attacker can try unlimited password combinations.",
			method, url, attempts),
		Type:      TypeBruteforce,
		Severity:  SeverityHigh,
		URL:       url,
		Parameter: param,
		Method:    method,
		Evidence:  fmt.Sprintf("Sent %d attempts without blocking", attempts),
		CWE:       "CWE-307",
	}
}

// isLoginForm requires a password field plus an identifier field.
func isLoginForm(form scanner.Form) bool {
	var hasPassword, hasIdentifier bool
	for _, field := range form.Fields {
		name := strings.ToLower(field.Name)
		if field.Type == scanner.FieldPassword ||
			strings.Contains(name, "password") || strings.Contains(name, "pass") {
			hasPassword = true
		}
		if containsAny(name, identifierKeywords) {
			hasIdentifier = true
		}
	}
	return hasPassword && hasIdentifier
}

func hasCaptcha(form scanner.Form) bool {
	for _, field := range form.Fields {
		if containsAny(strings.ToLower(field.Name), captchaKeywords) {
			return true
		}
	}
	return false
}

func hasLockoutIndicator(body string) bool {
	return containsAny(strings.ToLower(body), lockoutPhrases)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
