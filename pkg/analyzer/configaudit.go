package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// sensitivePaths are configuration and metadata files that must not
// be reachable over HTTP. robots.txt is informational but recorded.
var sensitivePaths = []string{
	".git/HEAD",
	".git/config",
	".env",
	".env.local",
	".env.production",
	"config.php",
	"config.yml",
	"database.yml",
	"wp-config.php",
	"web.config",
	"phpinfo.php",
	"info.php",
	"test.php",
	"composer.json",
	"package.json",
	".htaccess",
	"robots.txt",
}

// debugIndicators appear in framework error pages when debug mode is
// left on in production.
var debugIndicators = []string{
	"debug = true",
	"debug=true",
	"debug mode",
	"traceback",
	"stack trace",
	"django.core.exceptions",
	"flask.app",
	"laravel",
	"symfony",
	"app/config/database",
	"sqlalchemy.exc",
}

// listableDirs are common upload and asset directories probed for
// enabled directory listing.
var listableDirs = []string{
	"uploads/",
	"files/",
	"images/",
	"assets/",
	"static/",
	"media/",
}

// Config finding names. CWE assignment keys off these.
const (
	findingExposedGit       = "Exposed .git Directory"
	findingExposedEnv       = "Exposed .env File"
	findingDebugMode        = "Debug Mode Enabled"
	findingServerVersion    = "Server Version Disclosure"
	findingDirectoryListing = "Directory Listing Enabled"
)

var configCWE = map[string]string{
	findingExposedGit:       "CWE-200",
	findingExposedEnv:       "CWE-200",
	findingDebugMode:        "CWE-200",
	findingServerVersion:    "CWE-200",
	findingDirectoryListing: "CWE-548",
}

// maxDebugEndpoints caps how many endpoints the debug-mode check
// re-requests.
const maxDebugEndpoints = 5

// ConfigAudit probes for configuration weaknesses: exposed sensitive
// files, debug mode left enabled, version-disclosing headers and
// directory listing.
type ConfigAudit struct {
	Delay time.Duration
	log   *logger.Logger
}

// NewConfigAudit creates a configuration audit analyzer.
func NewConfigAudit(log *logger.Logger) *ConfigAudit {
	if log == nil {
		log = logger.Global()
	}
	return &ConfigAudit{
		Delay: defaultProbeDelay,
		log:   log.WithAnalyzer("config"),
	}
}

// Name implements Analyzer.
func (a *ConfigAudit) Name() string { return "config" }

// Analyze runs the four audit passes against the target.
func (a *ConfigAudit) Analyze(ctx context.Context, session Session, site *scanner.SiteMap) (*Result, error) {
	start := time.Now()
	result := &Result{Analyzer: a.Name()}

	if err := a.checkExposedFiles(ctx, session, site.BaseURL, result); err != nil {
		return result, err
	}
	if err := a.checkDebugMode(ctx, session, site, result); err != nil {
		return result, err
	}
	if err := a.checkServerHeaders(ctx, session, site.BaseURL, result); err != nil {
		return result, err
	}
	if err := a.checkDirectoryListing(ctx, session, site.BaseURL, result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found", len(result.Vulnerabilities))
	return result, nil
}

// checkExposedFiles requests each sensitive path. A 200 with content
// that is not a soft-404 page counts as exposed.
func (a *ConfigAudit) checkExposedFiles(ctx context.Context, session Session, baseURL string, result *Result) error {
	for _, path := range sensitivePaths {
		target, err := urlutil.Resolve(baseURL, path)
		if err != nil {
			continue
		}

		resp, err := session.Do(ctx, http.MethodGet, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).Debugf("%s not accessible", target)
			continue
		}
		result.TotalRequests++

		if resp.StatusCode == http.StatusOK && len(resp.Body) > 0 && !looksLikeSoft404(resp.Body) {
			severity := SeverityHigh
			if strings.Contains(path, ".git") || strings.Contains(path, ".env") {
				severity = SeverityCritical
			}

			vuln := a.buildFinding(exposedFileName(path), target, severity,
				fmt.Sprintf("File accessible: %s", path))
			result.Vulnerabilities = append(result.Vulnerabilities, vuln)
			a.log.Warnf("exposed file: %s", target)
		}

		if err := sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return nil
}

// checkDebugMode re-requests up to maxDebugEndpoints endpoints and
// flags HTTP 500 responses carrying framework debug output.
func (a *ConfigAudit) checkDebugMode(ctx context.Context, session Session, site *scanner.SiteMap, result *Result) error {
	checked := 0
	for _, endpointURL := range sortedEndpoints(site) {
		if checked >= maxDebugEndpoints {
			break
		}
		if len(site.Endpoints[endpointURL].Variants) == 0 {
			continue
		}

		resp, err := session.Do(ctx, http.MethodGet, endpointURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).Debugf("error checking %s", endpointURL)
			checked++
			continue
		}
		result.TotalRequests++

		if resp.StatusCode == http.StatusInternalServerError {
			body := strings.ToLower(resp.Body)
			for _, indicator := range debugIndicators {
				if strings.Contains(body, indicator) {
					vuln := a.buildFinding(findingDebugMode, endpointURL, SeverityMedium,
						truncate(resp.Body, 500))
					result.Vulnerabilities = append(result.Vulnerabilities, vuln)
					a.log.Warnf("debug mode: %s", endpointURL)
					break
				}
			}
		}

		checked++
		if err := sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return nil
}

// checkServerHeaders flags a Server header carrying a version number
// and any X-Powered-By header.
func (a *ConfigAudit) checkServerHeaders(ctx context.Context, session Session, baseURL string, result *Result) error {
	resp, err := session.Do(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.WithError(err).Error("error checking headers")
		return nil
	}
	result.TotalRequests++

	if server := resp.Headers.Get("Server"); server != "" && containsDigit(server) {
		vuln := a.buildFinding(findingServerVersion, baseURL, SeverityLow,
			fmt.Sprintf("Server: %s", server))
		result.Vulnerabilities = append(result.Vulnerabilities, vuln)
		a.log.Warnf("server version exposed: %s", server)
	}

	if poweredBy := resp.Headers.Get("X-Powered-By"); poweredBy != "" {
		vuln := a.buildFinding(findingServerVersion, baseURL, SeverityLow,
			fmt.Sprintf("X-Powered-By: %s", poweredBy))
		result.Vulnerabilities = append(result.Vulnerabilities, vuln)
		a.log.Warnf("x-powered-by exposed: %s", poweredBy)
	}

	return nil
}

// checkDirectoryListing probes common asset directories for an index
// page generated by the web server.
func (a *ConfigAudit) checkDirectoryListing(ctx context.Context, session Session, baseURL string, result *Result) error {
	for _, dir := range listableDirs {
		target, err := urlutil.Resolve(baseURL, dir)
		if err != nil {
			continue
		}

		resp, err := session.Do(ctx, http.MethodGet, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.WithError(err).Debugf("%s not accessible", target)
			continue
		}
		result.TotalRequests++

		if resp.StatusCode == http.StatusOK && isDirectoryListing(resp.Body) {
			vuln := a.buildFinding(findingDirectoryListing, target, SeverityMedium,
				fmt.Sprintf("Directory listing at: %s", dir))
			result.Vulnerabilities = append(result.Vulnerabilities, vuln)
			a.log.Warnf("directory listing: %s", target)
		}

		if err := sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return nil
}

func (a *ConfigAudit) buildFinding(name, url string, severity Severity, evidence string) Vulnerability {
	cwe, ok := configCWE[name]
	if !ok {
		cwe = "CWE-16"
	}
	return Vulnerability{
		Name:        name,
		Description: configDescription(name, url),
		Type:        TypeConfig,
		Severity:    severity,
		URL:         url,
		Parameter:   name,
		Method:      http.MethodGet,
		Evidence:    evidence,
		CWE:         cwe,
	}
}

func configDescription(name, url string) string {
	switch name {
	case findingExposedGit:
		return fmt.Sprintf("The .git directory at %s is publicly accessible, "+
			"exposing complete source code, credentials and development history.", url)
	case findingExposedEnv:
		return fmt.Sprintf("The environment configuration file at %s is publicly "+
			"accessible and contains sensitive credentials and API keys.", url)
	case findingDebugMode:
		return fmt.Sprintf("Debug mode is enabled in production at %s, exposing "+
			"stack traces, internal paths and framework versions.", url)
	case findingServerVersion:
		return fmt.Sprintf("Server version information is exposed in HTTP headers "+
			"at %s, letting attackers target known vulnerabilities.", url)
	case findingDirectoryListing:
		return fmt.Sprintf("Directory listing is enabled at %s, exposing the file "+
			"structure to reconnaissance.", url)
	default:
		return fmt.Sprintf("Configuration issue at %s: %s", url, name)
	}
}

// exposedFileName derives the finding name from the probed path.
func exposedFileName(path string) string {
	if strings.Contains(path, ".git") {
		return findingExposedGit
	}
	if strings.Contains(path, ".env") {
		return findingExposedEnv
	}
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	return fmt.Sprintf("Exposed %s File", strings.ToUpper(base))
}

// looksLikeSoft404 detects handlers that return 200 with a not-found
// page: "404" near the top of the body.
func looksLikeSoft404(body string) bool {
	head := body
	if len(head) > 100 {
		head = head[:100]
	}
	return strings.Contains(strings.ToLower(head), "404")
}

func isDirectoryListing(body string) bool {
	return strings.Contains(body, "Index of") ||
		strings.Contains(body, "Directory listing") ||
		strings.Contains(body, "<title>Index of")
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
