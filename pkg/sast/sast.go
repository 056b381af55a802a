// Package sast performs static analysis of uploaded source archives.
// The archive is extracted to a temporary directory, source files are
// matched against per-language dangerous patterns, and each matching
// line becomes a finding.
package sast

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
)

// excludedDirs are dependency and metadata trees never scanned.
var excludedDirs = map[string]struct{}{
	"node_modules": {},
	"venv":         {},
	".venv":        {},
	"__pycache__":  {},
	".git":         {},
}

// sourceFile is one file selected for scanning.
type sourceFile struct {
	path     string
	relPath  string
	language string
}

// Analyzer scans a source archive for dangerous code patterns.
type Analyzer struct {
	archivePath string
	log         *logger.Logger
}

// New creates a SAST analyzer for the given archive.
func New(archivePath string, log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Global()
	}
	return &Analyzer{
		archivePath: archivePath,
		log:         log.WithComponent("sast"),
	}
}

// Name identifies the analyzer in results.
func (a *Analyzer) Name() string { return "sast" }

// Analyze extracts the archive, walks the source tree and reports
// every dangerous-pattern match. The extraction directory is removed
// before returning. TestedEndpoints carries the scanned file count.
func (a *Analyzer) Analyze(ctx context.Context) (*analyzer.Result, error) {
	start := time.Now()
	result := &analyzer.Result{Analyzer: a.Name()}

	tempDir, err := os.MkdirTemp("", "sast_scan_")
	if err != nil {
		return result, err
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			a.log.WithError(err).Errorf("failed to clean up %s", tempDir)
		}
	}()

	if err := extract(a.archivePath, tempDir); err != nil {
		a.log.WithError(err).Error("failed to extract archive")
		return result, err
	}
	a.log.Infof("extracted archive to %s", tempDir)

	files, err := a.findSourceFiles(tempDir)
	if err != nil {
		return result, err
	}
	result.TestedEndpoints = len(files)
	a.log.Infof("found %d source files", len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		vulns := a.scanFile(file)
		result.Vulnerabilities = append(result.Vulnerabilities, vulns...)
	}

	result.Duration = time.Since(start)
	a.log.Infof("analysis complete: %d vulnerabilities found in %d files",
		len(result.Vulnerabilities), len(files))
	return result, nil
}

// findSourceFiles walks the extracted tree collecting files with a
// known source extension, pruning excluded directories.
func (a *Analyzer) findSourceFiles(root string) ([]sourceFile, error) {
	var files []sourceFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, excluded := excludedDirs[d.Name()]; excluded {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		language, known := languageByExt[ext]
		if !known {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		files = append(files, sourceFile{path: path, relPath: relPath, language: language})
		return nil
	})
	return files, err
}

// scanFile matches every rule of the file's language against each
// line. Unreadable files are skipped.
func (a *Analyzer) scanFile(file sourceFile) []analyzer.Vulnerability {
	rules := rulesByLanguage[file.language]
	if len(rules) == 0 {
		return nil
	}

	f, err := os.Open(file.path)
	if err != nil {
		a.log.WithError(err).Errorf("failed to read %s", file.relPath)
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		a.log.WithError(err).Errorf("failed to read %s", file.relPath)
		return nil
	}

	var vulns []analyzer.Vulnerability
	for _, r := range rules {
		for i, line := range lines {
			if !r.re.MatchString(line) {
				continue
			}
			lineNum := i + 1
			location := fmt.Sprintf("%s:%d", file.relPath, lineNum)

			vulns = append(vulns, analyzer.Vulnerability{
				Name: fmt.Sprintf("SAST: %s", r.description),
				Description: fmt.Sprintf(
					"Dangerous pattern in %s at line %d: %s. Code: %s. "+
						"Manual review is required to confirm exploitability.",
					file.relPath, lineNum, r.description, strings.TrimSpace(line)),
				Type:      analyzer.TypeSAST,
				Severity:  r.severity,
				URL:       location,
				Parameter: file.language,
				Method:    "SAST",
				Evidence:  strings.TrimSpace(line),
				CWE:       r.cwe,
			})

			a.log.Warnf("found vulnerability in %s: %s", location, r.description)
		}
	}
	return vulns
}
