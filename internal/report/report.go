// Package report formats scan results for export.
package report

import (
	"io"
	"sort"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/engine"
	"github.com/MikhailDrugie/se-attack-modeling/internal/store"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

// Report is the complete exportable outcome of one scan.
type Report struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Scan        *store.ScanRecord        `json:"scan,omitempty"`
	Summary     *engine.ScanSummary      `json:"summary,omitempty"`
	SiteMap     *scanner.Summary         `json:"site_map,omitempty"`
	Findings    []analyzer.Vulnerability `json:"findings"`

	SeverityCounts map[analyzer.Severity]int `json:"severity_counts"`
	TypeCounts     map[analyzer.VulnType]int `json:"type_counts"`
}

// Build assembles a report. Findings are ordered by severity, worst
// first, then by name for a stable export.
func Build(scan *store.ScanRecord, summary *engine.ScanSummary, siteMap *scanner.Summary, findings []analyzer.Vulnerability) *Report {
	sorted := make([]analyzer.Vulnerability, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity.Rank() != sorted[j].Severity.Rank() {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		}
		return sorted[i].Name < sorted[j].Name
	})

	severityCounts := make(map[analyzer.Severity]int)
	typeCounts := make(map[analyzer.VulnType]int)
	for _, f := range sorted {
		severityCounts[f.Severity]++
		typeCounts[f.Type]++
	}

	return &Report{
		GeneratedAt:    time.Now().UTC(),
		Scan:           scan,
		Summary:        summary,
		SiteMap:        siteMap,
		Findings:       sorted,
		SeverityCounts: severityCounts,
		TypeCounts:     typeCounts,
	}
}

// Writer defines the interface for report writers.
type Writer interface {
	// WriteReport writes the complete report.
	WriteReport(report *Report) error

	// WriteFinding writes a single finding (for streaming).
	WriteFinding(finding *analyzer.Vulnerability) error

	// Flush flushes any buffered output.
	Flush() error

	// Close closes the writer.
	Close() error
}

// Config holds report output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a report writer for the configured format.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "json":
		return NewJSONWriter(w, config.Pretty, config.Stream)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}
