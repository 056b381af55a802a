package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailDrugie/se-attack-modeling/internal/store"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
)

func sampleFindings() []analyzer.Vulnerability {
	return []analyzer.Vulnerability{
		{Name: "server version", Type: analyzer.TypeConfig, Severity: analyzer.SeverityLow, CWE: "CWE-200"},
		{Name: "xss in q", Type: analyzer.TypeXSS, Severity: analyzer.SeverityCritical, CWE: "CWE-79"},
		{Name: "csrf on transfer", Type: analyzer.TypeCSRF, Severity: analyzer.SeverityHigh, CWE: "CWE-352"},
		{Name: "sqli in id", Type: analyzer.TypeSQLi, Severity: analyzer.SeverityCritical, CWE: "CWE-89"},
	}
}

func TestBuild_OrdersBySeverity(t *testing.T) {
	r := Build(nil, nil, nil, sampleFindings())

	require.Len(t, r.Findings, 4)
	assert.Equal(t, "sqli in id", r.Findings[0].Name, "criticals first, ties by name")
	assert.Equal(t, "xss in q", r.Findings[1].Name)
	assert.Equal(t, "csrf on transfer", r.Findings[2].Name)
	assert.Equal(t, "server version", r.Findings[3].Name)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestBuild_Counts(t *testing.T) {
	r := Build(nil, nil, nil, sampleFindings())

	assert.Equal(t, 2, r.SeverityCounts[analyzer.SeverityCritical])
	assert.Equal(t, 1, r.SeverityCounts[analyzer.SeverityHigh])
	assert.Equal(t, 1, r.SeverityCounts[analyzer.SeverityLow])
	assert.Equal(t, 1, r.TypeCounts[analyzer.TypeXSS])
	assert.Equal(t, 1, r.TypeCounts[analyzer.TypeSQLi])
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	findings := sampleFindings()
	Build(nil, nil, nil, findings)
	assert.Equal(t, "server version", findings[0].Name, "input order untouched")
}

func TestJSONWriter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, false)

	scan := &store.ScanRecord{ID: 3, Target: "https://example.com", Status: store.StatusCompleted}
	require.NoError(t, w.WriteReport(Build(scan, nil, nil, sampleFindings())))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.NotNil(t, decoded.Scan)
	assert.Equal(t, uint64(3), decoded.Scan.ID)
	assert.Len(t, decoded.Findings, 4)
	assert.Equal(t, 2, decoded.SeverityCounts[analyzer.SeverityCritical])
}

func TestJSONWriter_Streaming(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, true)

	finding := sampleFindings()[1]
	require.NoError(t, w.WriteFinding(&finding))

	var event StreamEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "finding", event.Type)

	// Non-streaming writers drop per-finding events.
	var quiet bytes.Buffer
	qw := NewJSONWriter(&quiet, false, false)
	require.NoError(t, qw.WriteFinding(&finding))
	assert.Zero(t, quiet.Len())
}

func TestJSONWriter_ClosedWriterDropsOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, false)
	require.NoError(t, w.Close())

	require.NoError(t, w.WriteReport(Build(nil, nil, nil, nil)))
	assert.Zero(t, buf.Len())
}

func TestNewWriter_DefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Config{Format: "yaml"})
	_, ok := w.(*JSONWriter)
	assert.True(t, ok)
}
