// Package engine orchestrates scans: it drives the crawler, runs the
// vulnerability analyzers concurrently against the resulting site map
// and persists findings with scan lifecycle transitions.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/metrics"
	"github.com/MikhailDrugie/se-attack-modeling/internal/store"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/sast"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// Engine runs scans against the store's scan records.
type Engine struct {
	store *store.Store
	log   *logger.Logger

	// SessionTimeout bounds each analyzer probe request.
	SessionTimeout time.Duration

	// DisabledAnalyzers lists analyzer names excluded from web scans.
	DisabledAnalyzers []string

	mu       sync.Mutex
	siteMap  *scanner.SiteMap
	results  []*analyzer.Result
	lastScan *store.ScanRecord
}

// New creates an engine over the given store.
func New(st *store.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Global()
	}
	return &Engine{
		store:          st,
		log:            log.WithComponent("engine"),
		SessionTimeout: 10 * time.Second,
	}
}

// webAnalyzers builds the analyzer set for a web scan, minus any
// disabled ones.
func (e *Engine) webAnalyzers() []analyzer.Analyzer {
	all := []analyzer.Analyzer{
		analyzer.NewXSS(e.log),
		analyzer.NewSQLi(e.log),
		analyzer.NewCSRF(e.log),
		analyzer.NewBruteforce(e.log),
		analyzer.NewConfigAudit(e.log),
	}
	if len(e.DisabledAnalyzers) == 0 {
		return all
	}

	disabled := make(map[string]bool, len(e.DisabledAnalyzers))
	for _, name := range e.DisabledAnalyzers {
		disabled[name] = true
	}

	kept := all[:0]
	for _, a := range all {
		if disabled[a.Name()] {
			e.log.Infof("analyzer %s disabled", a.Name())
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// RunWebScan executes the full pipeline for a stored scan: crawl,
// analyze, persist. A missing scan record aborts without a status
// transition; any later failure marks the scan failed.
func (e *Engine) RunWebScan(ctx context.Context, scanID uint64, cfg *scanner.Config) error {
	log := e.log.WithScan(scanID)

	record, err := e.store.GetScan(scanID)
	if err != nil {
		log.WithError(err).Error("scan record not found, aborting")
		return err
	}
	e.setLastScan(record)

	if err := e.store.UpdateStatus(scanID, store.StatusRunning, nil); err != nil {
		return err
	}

	if cfg == nil {
		cfg = scanner.DefaultConfig()
	}
	if cfg.Target == "" {
		cfg.Target = record.Target
	}

	log.Infof("starting scan for %s", cfg.Target)

	if err := e.runPipeline(ctx, scanID, cfg, log); err != nil {
		log.WithError(err).Error("scan failed")
		if statusErr := e.store.UpdateStatus(scanID, store.StatusFailed, err); statusErr != nil {
			log.WithError(statusErr).Error("failed to record failure")
		}
		return err
	}

	if err := e.store.UpdateStatus(scanID, store.StatusCompleted, nil); err != nil {
		return err
	}

	if updated, err := e.store.GetScan(scanID); err == nil {
		e.setLastScan(updated)
	}
	log.StatsEvent(metrics.Global().Snapshot().Summary())
	log.Infof("scan completed, %d vulnerabilities found", e.totalFindings())
	return nil
}

func (e *Engine) runPipeline(ctx context.Context, scanID uint64, cfg *scanner.Config, log *logger.Logger) error {
	siteMap, err := e.crawl(ctx, cfg, log)
	if err != nil {
		return err
	}

	results, err := e.analyze(ctx, siteMap, log)
	if err != nil {
		return err
	}

	return e.saveResults(scanID, results, log)
}

// crawl discovers the target and builds the site map.
func (e *Engine) crawl(ctx context.Context, cfg *scanner.Config, log *logger.Logger) (*scanner.SiteMap, error) {
	log.Infof("crawling %s", cfg.Target)

	crawler, err := scanner.New(
		scanner.WithConfig(cfg),
		scanner.WithLogger(e.log),
	)
	if err != nil {
		return nil, err
	}
	defer crawler.Close()

	siteMap, err := crawler.Run(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.siteMap = siteMap
	e.mu.Unlock()

	log.Infof("crawling complete: %d endpoints, %d forms",
		len(siteMap.Endpoints), len(siteMap.AllForms()))
	return siteMap, nil
}

// analyze runs every analyzer concurrently against the shared site
// map. The site map is read-only at this point; each analyzer gets
// its own result. The first analyzer error fails the scan.
func (e *Engine) analyze(ctx context.Context, siteMap *scanner.SiteMap, log *logger.Logger) ([]*analyzer.Result, error) {
	log.Info("starting vulnerability analysis")

	session := analyzer.NewHTTPSession(e.SessionTimeout)
	defer session.Close()

	analyzers := e.webAnalyzers()
	results := make([]*analyzer.Result, len(analyzers))
	errs := make([]error, len(analyzers))

	var wg sync.WaitGroup
	for i, a := range analyzers {
		wg.Add(1)
		go func(i int, a analyzer.Analyzer) {
			defer wg.Done()
			results[i], errs[i] = a.Analyze(ctx, session, siteMap)
		}(i, a)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.results = results
	e.mu.Unlock()

	total := 0
	for _, r := range results {
		total += len(r.Vulnerabilities)
	}
	log.Infof("analysis complete: %d vulnerabilities found", total)
	return results, nil
}

// saveResults persists every finding under the scan.
func (e *Engine) saveResults(scanID uint64, results []*analyzer.Result, log *logger.Logger) error {
	log.Info("saving results")

	for _, result := range results {
		if len(result.Vulnerabilities) == 0 {
			continue
		}
		for _, v := range result.Vulnerabilities {
			log.FindingEvent(result.Analyzer, v.Name, string(v.Severity), v.URL)
		}
		if err := e.store.SaveVulnerabilities(scanID, result.Vulnerabilities); err != nil {
			return err
		}
	}
	return nil
}

// RunSASTScan analyzes the archive attached to a stored scan. The
// lifecycle matches RunWebScan.
func (e *Engine) RunSASTScan(ctx context.Context, scanID uint64) error {
	log := e.log.WithScan(scanID)

	record, err := e.store.GetScan(scanID)
	if err != nil {
		log.WithError(err).Error("scan record not found, aborting")
		return err
	}
	e.setLastScan(record)

	if err := e.store.UpdateStatus(scanID, store.StatusRunning, nil); err != nil {
		return err
	}

	log.Infof("starting SAST scan for %s", record.ArchivePath)

	result, err := sast.New(record.ArchivePath, e.log).Analyze(ctx)
	if err == nil {
		e.mu.Lock()
		e.results = []*analyzer.Result{result}
		e.mu.Unlock()
		err = e.saveResults(scanID, []*analyzer.Result{result}, log)
	}
	if err != nil {
		log.WithError(err).Error("SAST scan failed")
		if statusErr := e.store.UpdateStatus(scanID, store.StatusFailed, err); statusErr != nil {
			log.WithError(statusErr).Error("failed to record failure")
		}
		return err
	}

	if err := e.store.UpdateStatus(scanID, store.StatusCompleted, nil); err != nil {
		return err
	}

	if updated, err := e.store.GetScan(scanID); err == nil {
		e.setLastScan(updated)
	}
	log.Infof("SAST scan completed, %d vulnerabilities found", len(result.Vulnerabilities))
	return nil
}

// AnalyzerSummary describes one analyzer's contribution.
type AnalyzerSummary struct {
	Name            string        `json:"name"`
	Vulnerabilities int           `json:"vulnerabilities"`
	Requests        int           `json:"requests"`
	Duration        time.Duration `json:"duration"`
}

// ScanSummary is the exported overview of the last scan run.
type ScanSummary struct {
	ScanID          uint64            `json:"scan_id"`
	Target          string            `json:"target,omitempty"`
	Status          string            `json:"status"`
	Endpoints       int               `json:"endpoints_scanned"`
	FormsTested     int               `json:"forms_tested"`
	Vulnerabilities int               `json:"vulnerabilities_found"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Analyzers       []AnalyzerSummary `json:"analyzers"`
}

// Summary reports the outcome of the engine's last run.
func (e *Engine) Summary() *ScanSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := &ScanSummary{Status: "UNKNOWN"}

	if e.lastScan != nil {
		summary.ScanID = e.lastScan.ID
		summary.Target = e.lastScan.Target
		summary.Status = e.lastScan.Status.String()
		summary.CompletedAt = e.lastScan.FinishedAt
	}
	if e.siteMap != nil {
		summary.Endpoints = len(e.siteMap.Endpoints)
		summary.FormsTested = len(e.siteMap.AllForms())
	}
	for _, r := range e.results {
		summary.Vulnerabilities += len(r.Vulnerabilities)
		summary.Analyzers = append(summary.Analyzers, AnalyzerSummary{
			Name:            r.Analyzer,
			Vulnerabilities: len(r.Vulnerabilities),
			Requests:        r.TotalRequests,
			Duration:        r.Duration,
		})
	}
	return summary
}

func (e *Engine) setLastScan(record *store.ScanRecord) {
	e.mu.Lock()
	e.lastScan = record
	e.mu.Unlock()
}

func (e *Engine) totalFindings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, r := range e.results {
		total += len(r.Vulnerabilities)
	}
	return total
}
