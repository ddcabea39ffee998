// Command testreport merges `go test -json` output with the TestPurpose /
// Scope / Security / Expected headers on test functions and writes JSON and
// Markdown reports. It exits non-zero when any test failed so CI can gate on
// it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

// TestMetadata is parsed from a test function's doc comment.
type TestMetadata struct {
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Category   string `json:"category"`
}

// TestEvent is one line of `go test -json`.
type TestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// Result is the merged outcome of one test.
type Result struct {
	Package     string       `json:"package"`
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// Summary is the top-level report.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`
}

var categoryOrder = []string{"Tokens", "Tunnel", "AuthN", "Storage", "API", "Audit", "Other"}

func main() {
	cmd := &cli.Command{
		Name:  "testreport",
		Usage: "Build test reports from go test -json output",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Required: true, Usage: "go test -json output file"},
			&cli.StringFlag{Name: "out-json", Required: true, Usage: "JSON report path"},
			&cli.StringFlag{Name: "out-md", Required: true, Usage: "Markdown report path"},
			&cli.StringFlag{Name: "root", Value: ".", Usage: "Module root to scan for test annotations"},
			&cli.StringFlag{Name: "title", Value: "Test Report", Usage: "Report title"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(cmd.String("root"), cmd.String("input"), cmd.String("out-json"), cmd.String("out-md"), cmd.String("title"))
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("testreport failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(root, input, outJSON, outMD, title string) error {
	module, err := modulePath(root)
	if err != nil {
		return err
	}
	meta, err := scanMetadata(root, module)
	if err != nil {
		return err
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open test output: %w", err)
	}
	defer f.Close()

	results, err := mergeEvents(f, meta)
	if err != nil {
		return err
	}
	summary := summarize(results)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFile(outJSON, data); err != nil {
		return err
	}
	if err := writeFile(outMD, []byte(renderMarkdown(summary, title))); err != nil {
		return err
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d tests failed", summary.Failed)
	}
	return nil
}

func modulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("no module directive in go.mod")
}

// scanMetadata indexes every Test function under root by "pkg.TestName".
func scanMetadata(root, module string) (map[string]TestMetadata, error) {
	out := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		pkg := module
		if rel != "." {
			pkg = module + "/" + filepath.ToSlash(rel)
		}

		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			m := parseDoc(fn.Doc)
			m.Category = category(pkg)
			out[pkg+"."+fn.Name.Name] = m
		}
		return nil
	})
	return out, err
}

func parseDoc(doc *ast.CommentGroup) TestMetadata {
	var m TestMetadata
	if doc == nil {
		return m
	}
	fields := map[string]*string{
		"TestPurpose:":  &m.Purpose,
		"Scope:":        &m.Scope,
		"Security:":     &m.Security,
		"Expected:":     &m.Expected,
		"Test Case ID:": &m.TestCaseID,
	}
	for _, c := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		for prefix, dst := range fields {
			if v, ok := strings.CutPrefix(text, prefix); ok {
				*dst = strings.TrimSpace(v)
			}
		}
	}
	return m
}

func category(pkg string) string {
	switch {
	case strings.Contains(pkg, "/keystore"), strings.Contains(pkg, "/idp"), strings.Contains(pkg, "/satellite"):
		return "Tokens"
	case strings.Contains(pkg, "/tunnel"), strings.Contains(pkg, "/secret"):
		return "Tunnel"
	case strings.Contains(pkg, "/identity"), strings.Contains(pkg, "/session"):
		return "AuthN"
	case strings.Contains(pkg, "/store/"):
		return "Storage"
	case strings.Contains(pkg, "/transport/http"):
		return "API"
	case strings.Contains(pkg, "/audit"):
		return "Audit"
	default:
		return "Other"
	}
}

// mergeEvents folds test events into one result per test. Subtests inherit
// their parent's annotations.
func mergeEvents(r io.Reader, meta map[string]TestMetadata) ([]Result, error) {
	states := make(map[string]*Result)
	for key, m := range meta {
		pkg, name := splitKey(key)
		states[key] = &Result{Package: pkg, Name: name, Status: "not run", Annotations: m}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev TestEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}
		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			parent, _, _ := strings.Cut(ev.Test, "/")
			m, found := meta[ev.Package+"."+parent]
			if !found {
				m = TestMetadata{Category: category(ev.Package)}
			}
			res = &Result{Package: ev.Package, Name: ev.Test, Annotations: m}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" || res.Status == "not run" {
				res.Failure += ev.Output
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	list := make([]Result, 0, len(states))
	for _, v := range states {
		if v.Status != "fail" {
			v.Failure = ""
		}
		list = append(list, *v)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Package != list[j].Package {
			return list[i].Package < list[j].Package
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func splitKey(key string) (pkg, name string) {
	i := strings.LastIndex(key, ".")
	return key[:i], key[i+1:]
}

func summarize(results []Result) Summary {
	s := Summary{GeneratedAt: time.Now(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func renderMarkdown(s Summary, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HubTrust %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated:** %s  \n", s.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	status := "PASSED"
	if s.Failed > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(&sb, "**Status:** %s\n\n", status)

	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.Passed) / float64(s.Total) * 100
	}
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|-------|--------|--------|---------|-----------|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %.1f%% |\n\n", s.Total, s.Passed, s.Failed, s.Skipped, rate)

	byCategory := make(map[string][]Result)
	for _, r := range s.Results {
		byCategory[r.Annotations.Category] = append(byCategory[r.Annotations.Category], r)
	}
	for _, cat := range categoryOrder {
		tests := byCategory[cat]
		if len(tests) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", cat)
		sb.WriteString("| ID | Test | Status | Purpose | Security |\n")
		sb.WriteString("|----|------|--------|---------|----------|\n")
		for _, t := range tests {
			fmt.Fprintf(&sb, "| %s | `%s` | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, t.Status, t.Annotations.Purpose, t.Annotations.Security)
		}
		sb.WriteString("\n")
	}

	if s.Failed > 0 {
		sb.WriteString("## Failures\n\n")
		for _, r := range s.Results {
			if r.Status == "fail" {
				fmt.Fprintf(&sb, "### %s.%s\n\n```\n%s```\n\n", r.Package, r.Name, r.Failure)
			}
		}
	}
	return sb.String()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
