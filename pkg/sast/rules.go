package sast

import (
	"regexp"

	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
)

// rule matches one dangerous source pattern.
type rule struct {
	re          *regexp.Regexp
	description string
	severity    analyzer.Severity
	cwe         string
}

func newRule(pattern, description string, severity analyzer.Severity, cwe string) rule {
	return rule{
		re:          regexp.MustCompile(`(?i)` + pattern),
		description: description,
		severity:    severity,
		cwe:         cwe,
	}
}

// languageByExt maps source file extensions to rule sets.
var languageByExt = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "javascript",
	".tsx":  "javascript",
	".php":  "php",
	".java": "java",
	".cs":   "csharp",
}

// rulesByLanguage holds the per-language dangerous patterns.
var rulesByLanguage = map[string][]rule{
	"python": {
		newRule(`eval\s*\(`, "Code injection via eval()", analyzer.SeverityCritical, "CWE-94"),
		newRule(`exec\s*\(`, "Code injection via exec()", analyzer.SeverityCritical, "CWE-94"),
		newRule(`__import__\s*\(`, "Dynamic import vulnerability", analyzer.SeverityHigh, "CWE-94"),
		newRule(`pickle\.loads?\s*\(`, "Unsafe deserialization", analyzer.SeverityCritical, "CWE-502"),
		newRule(`\.execute\s*\([^?]*['"][^?]*%`, "SQL injection (string formatting)", analyzer.SeverityCritical, "CWE-89"),
		newRule(`subprocess\.(call|run|Popen)\s*\(.*shell\s*=\s*True`, "Command injection", analyzer.SeverityCritical, "CWE-78"),
		newRule(`os\.system\s*\(`, "Command injection via os.system", analyzer.SeverityCritical, "CWE-78"),
	},
	"javascript": {
		newRule(`eval\s*\(`, "Code injection via eval()", analyzer.SeverityCritical, "CWE-94"),
		newRule(`innerHTML\s*=`, "Potential XSS via innerHTML", analyzer.SeverityHigh, "CWE-79"),
		newRule(`document\.write\s*\(`, "Potential XSS via document.write", analyzer.SeverityHigh, "CWE-79"),
		newRule(`dangerouslySetInnerHTML`, "React XSS vulnerability", analyzer.SeverityHigh, "CWE-79"),
		newRule(`new\s+Function\s*\(`, "Code injection via Function constructor", analyzer.SeverityCritical, "CWE-94"),
		newRule(`setTimeout\s*\(\s*['"]`, "Code injection via setTimeout", analyzer.SeverityHigh, "CWE-94"),
		newRule(`setInterval\s*\(\s*['"]`, "Code injection via setInterval", analyzer.SeverityHigh, "CWE-94"),
	},
	"php": {
		newRule(`eval\s*\(`, "Code injection via eval()", analyzer.SeverityCritical, "CWE-94"),
		newRule(`\$_(GET|POST|REQUEST|COOKIE)\[`, "Direct user input usage", analyzer.SeverityMedium, "CWE-20"),
		newRule(`mysql_query\s*\(\s*['"].*\$`, "SQL injection (mysql)", analyzer.SeverityCritical, "CWE-89"),
		newRule(`mysqli_query\s*\(.*\$`, "SQL injection (mysqli)", analyzer.SeverityCritical, "CWE-89"),
		newRule(`exec\s*\(`, "Command injection via exec", analyzer.SeverityCritical, "CWE-78"),
		newRule(`system\s*\(`, "Command injection via system", analyzer.SeverityCritical, "CWE-78"),
		newRule(`passthru\s*\(`, "Command injection via passthru", analyzer.SeverityCritical, "CWE-78"),
		newRule(`shell_exec\s*\(`, "Command injection via shell_exec", analyzer.SeverityCritical, "CWE-78"),
		newRule(`unserialize\s*\(`, "Unsafe deserialization", analyzer.SeverityHigh, "CWE-502"),
	},
	"java": {
		newRule(`Runtime\.getRuntime\(\)\.exec`, "Command injection", analyzer.SeverityCritical, "CWE-78"),
		newRule(`Class\.forName`, "Dynamic class loading", analyzer.SeverityMedium, "CWE-470"),
		newRule(`ObjectInputStream\.readObject`, "Unsafe deserialization", analyzer.SeverityCritical, "CWE-502"),
	},
	"csharp": {
		newRule(`Process\.Start`, "Command injection", analyzer.SeverityHigh, "CWE-78"),
		newRule(`SqlCommand.*\+`, "SQL injection (string concatenation)", analyzer.SeverityCritical, "CWE-89"),
		newRule(`BinaryFormatter\.Deserialize`, "Unsafe deserialization", analyzer.SeverityCritical, "CWE-502"),
	},
}
