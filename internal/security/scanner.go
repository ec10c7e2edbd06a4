// Package security statically scans a generated server project for known
// vulnerable dependencies, dangerous code patterns, and sensitive files.
// The scanner never starts a process and never mutates the project, so
// scanning an unchanged directory is deterministic and safe to repeat.
package security

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"mcpvet/pkg/logging"
)

// vulnerablePackage marks every version of a package strictly below
// FixedIn as vulnerable.
type vulnerablePackage struct {
	Name        string
	FixedIn     string
	Severity    Severity
	Description string
}

// codePattern is a dangerous-source matcher applied line by line.
type codePattern struct {
	Type        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
}

// sensitiveFile flags a file whose mere presence in a project is a finding.
type sensitiveFile struct {
	Pattern     string
	Severity    Severity
	Description string
}

// The tables below are fixed at build time so results stay deterministic
// across runs.
var knownVulnerable = []vulnerablePackage{
	{Name: "lodash", FixedIn: "4.17.21", Severity: SeverityHigh, Description: "prototype pollution in versions before 4.17.21"},
	{Name: "minimist", FixedIn: "1.2.6", Severity: SeverityMedium, Description: "prototype pollution in versions before 1.2.6"},
	{Name: "node-fetch", FixedIn: "2.6.7", Severity: SeverityMedium, Description: "information exposure in versions before 2.6.7"},
	{Name: "express", FixedIn: "4.17.3", Severity: SeverityMedium, Description: "open redirect in versions before 4.17.3"},
	{Name: "pyyaml", FixedIn: "5.4", Severity: SeverityHigh, Description: "arbitrary code execution via full_load before 5.4"},
	{Name: "requests", FixedIn: "2.31.0", Severity: SeverityMedium, Description: "proxy credential leak in versions before 2.31.0"},
	{Name: "flask", FixedIn: "2.2.5", Severity: SeverityMedium, Description: "session cookie disclosure in versions before 2.2.5"},
	{Name: "golang.org/x/text", FixedIn: "0.3.8", Severity: SeverityHigh, Description: "denial of service in language parsing before 0.3.8"},
	{Name: "gopkg.in/yaml.v2", FixedIn: "2.2.8", Severity: SeverityMedium, Description: "excessive resource consumption before 2.2.8"},
}

var dangerousPatterns = []codePattern{
	{
		Type:        "dynamic-code-execution",
		Pattern:     regexp.MustCompile(`\beval\s*\(|\bnew\s+Function\s*\(|\bexec\s*\(\s*compile\s*\(`),
		Severity:    SeverityCritical,
		Description: "dynamic code evaluation",
	},
	{
		Type:        "shell-injection",
		Pattern:     regexp.MustCompile(`child_process|\bos\.system\s*\(|\bsubprocess\.(run|call|Popen)\s*\(.*shell\s*=\s*True|\bexec\.Command\s*\(\s*"(sh|bash)"`),
		Severity:    SeverityHigh,
		Description: "shell-invoking call that may receive unsanitized input",
	},
	{
		Type:        "hardcoded-credential",
		Pattern:     regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)\b\s*[:=]\s*["'][^"']{4,}["']`),
		Severity:    SeverityMedium,
		Description: "hardcoded credential-shaped literal",
	},
}

var sensitiveFiles = []sensitiveFile{
	{Pattern: ".env", Severity: SeverityHigh, Description: "environment file may contain secrets"},
	{Pattern: ".env.*", Severity: SeverityHigh, Description: "environment file may contain secrets"},
	{Pattern: "id_rsa", Severity: SeverityCritical, Description: "private SSH key committed to project"},
	{Pattern: "*.pem", Severity: SeverityCritical, Description: "private key material committed to project"},
	{Pattern: "credentials.json", Severity: SeverityHigh, Description: "credential file committed to project"},
	{Pattern: "secrets.yaml", Severity: SeverityHigh, Description: "secret file committed to project"},
	{Pattern: "secrets.yml", Severity: SeverityHigh, Description: "secret file committed to project"},
}

// sourceExtensions limits the code pass to text the pattern table understands.
var sourceExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true,
	".py": true, ".go": true, ".sh": true, ".rb": true,
}

var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"dist":         true,
	"__pycache__":  true,
	".venv":        true,
}

// Scanner runs the three static passes. The zero value is not usable,
// construct with NewScanner.
type Scanner struct {
	vulnerable []vulnerablePackage
	patterns   []codePattern
	sensitive  []sensitiveFile
}

func NewScanner() *Scanner {
	return &Scanner{
		vulnerable: knownVulnerable,
		patterns:   dangerousPatterns,
		sensitive:  sensitiveFiles,
	}
}

// Scan walks projectPath once and applies all three passes. Unreadable
// files are skipped and noted as warnings rather than failing the scan.
func (s *Scanner) Scan(projectPath string) *Result {
	result := newResult()

	s.scanDependencies(projectPath, result)
	s.scanSources(projectPath, result)
	s.scanSensitiveFiles(projectPath, result)

	logging.Debug("security", "scan of %s found %d issues (%d warnings)",
		projectPath, len(result.Issues), len(result.Warnings))
	return result
}

func (s *Scanner) scanDependencies(projectPath string, result *Result) {
	if deps, err := readPackageJSONDeps(filepath.Join(projectPath, "package.json")); err == nil {
		s.matchDependencies("package.json", deps, result)
	} else if !os.IsNotExist(err) {
		result.warn("package.json", err)
	}

	if deps, err := readRequirementsTxt(filepath.Join(projectPath, "requirements.txt")); err == nil {
		s.matchDependencies("requirements.txt", deps, result)
	} else if !os.IsNotExist(err) {
		result.warn("requirements.txt", err)
	}

	if deps, err := readGoModRequires(filepath.Join(projectPath, "go.mod")); err == nil {
		s.matchDependencies("go.mod", deps, result)
	} else if !os.IsNotExist(err) {
		result.warn("go.mod", err)
	}
}

func (s *Scanner) matchDependencies(manifest string, deps map[string]string, result *Result) {
	for _, vuln := range s.vulnerable {
		version, ok := deps[vuln.Name]
		if !ok {
			continue
		}
		if versionBelow(version, vuln.FixedIn) {
			result.record(Issue{
				Type:        "vulnerable-dependency",
				Category:    CategoryDependency,
				File:        manifest,
				Description: fmt.Sprintf("%s %s: %s", vuln.Name, version, vuln.Description),
				Severity:    vuln.Severity,
			})
		}
	}
}

func (s *Scanner) scanSources(projectPath string, result *Result) {
	// WalkDir visits entries in lexical order, which keeps the issue
	// list stable between runs.
	filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.warn(path, err)
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(d.Name())] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			result.warn(path, err)
			return nil
		}
		rel := relativeTo(projectPath, path)
		for _, pattern := range s.patterns {
			if pattern.Pattern.Match(data) {
				result.record(Issue{
					Type:        pattern.Type,
					Category:    CategoryCode,
					File:        rel,
					Description: pattern.Description,
					Severity:    pattern.Severity,
				})
			}
		}
		return nil
	})
}

func (s *Scanner) scanSensitiveFiles(projectPath string, result *Result) {
	filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // already warned by the source pass
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		for _, sensitive := range s.sensitive {
			matched, _ := filepath.Match(sensitive.Pattern, d.Name())
			if matched {
				result.record(Issue{
					Type:        "sensitive-file",
					Category:    CategoryConfiguration,
					File:        relativeTo(projectPath, path),
					Description: sensitive.Description,
					Severity:    sensitive.Severity,
				})
				break
			}
		}
		return nil
	})
}

func (r *Result) warn(path string, err error) {
	message := fmt.Sprintf("skipped %s: %v", path, err)
	r.Warnings = append(r.Warnings, message)
	logging.Warn("security", "%s", message)
}

func relativeTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}

func readPackageJSONDeps(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	deps := make(map[string]string, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name, version := range manifest.Dependencies {
		deps[name] = strings.TrimLeft(version, "^~>=< ")
	}
	for name, version := range manifest.DevDependencies {
		deps[name] = strings.TrimLeft(version, "^~>=< ")
	}
	return deps, nil
}

func readRequirementsTxt(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	deps := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, version, found := strings.Cut(line, "==")
		if !found {
			continue
		}
		deps[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(version)
	}
	return deps, nil
}

func readGoModRequires(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	deps := make(map[string]string)
	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "require ("):
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		case strings.HasPrefix(line, "require "):
			line = strings.TrimPrefix(line, "require ")
		case !inBlock:
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		deps[fields[0]] = strings.TrimPrefix(fields[1], "v")
	}
	return deps, nil
}

// versionBelow reports whether version sorts strictly before fixedIn,
// comparing dotted numeric segments and ignoring any suffix after the
// first non-numeric character in a segment.
func versionBelow(version, fixedIn string) bool {
	a := versionSegments(version)
	b := versionSegments(fixedIn)
	for i := 0; i < len(a) || i < len(b); i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

func versionSegments(version string) []int {
	parts := strings.Split(version, ".")
	segments := make([]int, 0, len(parts))
	for _, part := range parts {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(part[:end])
		if err != nil {
			n = 0
		}
		segments = append(segments, n)
	}
	return segments
}
