// Package doctor runs the tinyMem self-diagnostics shown by the doctor
// tool and CLI command.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/daverage/tinymem/internal/config"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/updater"
)

// Status is the outcome of one check.
type Status string

// Check outcomes, mildest first.
const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

func (s Status) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Check is one diagnostic section.
type Check struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Report collects every check in a fixed order.
type Report struct {
	ProjectRoot string  `json:"project_root"`
	DataDir     string  `json:"data_dir"`
	Version     string  `json:"version"`
	Overall     Status  `json:"overall"`
	Checks      []Check `json:"checks"`
}

// Store is the subset of the memory store the doctor inspects.
type Store interface {
	HealthCheck() memory.Health
	Stats(projectID string) (*memory.Stats, error)
	FactsWithoutEvidence(projectID string) (int, error)
	CoVeStats(projectID string) (*memory.CoVeStats, error)
	Path() string
}

// Pinger probes the LLM backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// VersionChecker looks up the latest release.
type VersionChecker interface {
	Check(ctx context.Context, current string) (*updater.Result, error)
}

// Doctor runs the checks. Any dependency may be nil; the matching check
// then reports why it could not run.
type Doctor struct {
	cfg      *config.Config
	store    Store
	llm      Pinger
	versions VersionChecker
	version  string
}

// New creates a Doctor.
func New(cfg *config.Config, store Store, llm Pinger, versions VersionChecker, version string) *Doctor {
	return &Doctor{cfg: cfg, store: store, llm: llm, versions: versions, version: version}
}

// Run executes every check concurrently and returns them in a stable order.
func (d *Doctor) Run(ctx context.Context) *Report {
	checks := []func(context.Context) Check{
		d.checkDatabase,
		d.checkFilesystem,
		d.checkConfig,
		d.checkMemory,
		d.checkCoVe,
		d.checkLLM,
		d.checkVersion,
	}

	results := make([]Check, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		ProjectRoot: d.cfg.ProjectRoot,
		DataDir:     d.cfg.DataDir,
		Version:     d.version,
		Overall:     StatusOK,
		Checks:      results,
	}
	for _, c := range results {
		if c.Status.rank() > report.Overall.rank() {
			report.Overall = c.Status
		}
	}
	return report
}

func (d *Doctor) checkDatabase(context.Context) Check {
	c := Check{Name: "Database"}
	if d.store == nil {
		c.Status, c.Message = StatusFail, "store is not open"
		return c
	}
	h := d.store.HealthCheck()
	c.Details = []string{
		"Path: " + d.store.Path(),
		"Connectivity: " + okFail(h.Connectivity),
		"Query: " + okFail(h.QueryOK),
	}
	if !h.Healthy() {
		c.Status, c.Message = StatusFail, "database check failed: "+h.Error
		return c
	}
	c.Status, c.Message = StatusOK, "database reachable"
	return c
}

func (d *Doctor) checkFilesystem(context.Context) Check {
	c := Check{Name: "Filesystem"}
	if d.cfg.DataDir == "" {
		c.Status, c.Message = StatusFail, "data directory is not set"
		return c
	}
	f, err := os.CreateTemp(d.cfg.DataDir, ".doctor-*")
	if err != nil {
		c.Status, c.Message = StatusFail, fmt.Sprintf("data directory not writable: %v", err)
		return c
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	c.Details = []string{"Data directory: " + d.cfg.DataDir}
	if _, err := os.Stat(filepath.Join(d.cfg.DataDir, config.FileName)); err == nil {
		c.Details = append(c.Details, "Config file: present")
	} else {
		c.Details = append(c.Details, "Config file: not found (defaults in use)")
	}
	c.Status, c.Message = StatusOK, "data directory writable"
	return c
}

func (d *Doctor) checkConfig(context.Context) Check {
	c := Check{Name: "Configuration"}
	problems := d.cfg.Validate()
	c.Details = []string{
		fmt.Sprintf("Semantic recall: %s", onOff(d.cfg.Recall.SemanticEnabled)),
		fmt.Sprintf("Hybrid weight: %.2f", d.cfg.Recall.HybridWeight),
		fmt.Sprintf("Recall budget: %d items / %d tokens", d.cfg.Recall.MaxItems, d.cfg.Recall.MaxTokens),
		fmt.Sprintf("CoVe: %s (threshold %.2f)", onOff(d.cfg.CoVe.Enabled), d.cfg.CoVe.ConfidenceThreshold),
	}
	if len(problems) > 0 {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("%d configuration problem(s)", len(problems))
		c.Details = append(c.Details, problems...)
		return c
	}
	c.Status, c.Message = StatusOK, "configuration valid"
	return c
}

func (d *Doctor) checkMemory(context.Context) Check {
	c := Check{Name: "Memory integrity"}
	if d.store == nil {
		c.Status, c.Message = StatusFail, "store is not open"
		return c
	}
	stats, err := d.store.Stats(d.cfg.ProjectID)
	if err != nil {
		c.Status, c.Message = StatusFail, err.Error()
		return c
	}
	c.Details = []string{fmt.Sprintf("Total memories: %d (facts: %d)", stats.Total, stats.Facts)}

	orphans, err := d.store.FactsWithoutEvidence(d.cfg.ProjectID)
	if err != nil {
		c.Status, c.Message = StatusFail, err.Error()
		return c
	}
	if orphans > 0 {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("%d fact(s) have no evidence", orphans)
		return c
	}
	c.Status, c.Message = StatusOK, "every fact has evidence"
	return c
}

func (d *Doctor) checkCoVe(context.Context) Check {
	c := Check{Name: "CoVe"}
	if !d.cfg.CoVe.Enabled {
		c.Status, c.Message = StatusOK, "disabled"
		return c
	}
	if d.store == nil {
		c.Status, c.Message = StatusWarn, "no store to read statistics from"
		return c
	}
	st, err := d.store.CoVeStats(d.cfg.ProjectID)
	if err != nil {
		c.Status, c.Message = StatusWarn, err.Error()
		return c
	}
	c.Details = []string{
		fmt.Sprintf("Candidates evaluated: %d", st.Evaluated),
		fmt.Sprintf("Candidates discarded: %d", st.Discarded),
		fmt.Sprintf("Average confidence: %.2f", st.AvgConfidence),
		fmt.Sprintf("Errors: %d", st.Errors),
	}
	if st.Evaluated == 0 && st.Errors > 0 {
		c.Status, c.Message = StatusWarn, "every verification attempt has failed"
		return c
	}
	c.Status, c.Message = StatusOK, "enabled"
	return c
}

func (d *Doctor) checkLLM(ctx context.Context) Check {
	c := Check{Name: "LLM backend", Details: []string{
		"Base URL: " + d.cfg.LLM.BaseURL,
		"Model: " + d.cfg.LLM.Model,
	}}
	if d.llm == nil {
		c.Status, c.Message = StatusWarn, "not configured"
		return c
	}
	if err := d.llm.Ping(ctx); err != nil {
		c.Status = StatusWarn
		c.Message = "unreachable; recall falls back to lexical and CoVe is bypassed"
		c.Details = append(c.Details, "Error: "+err.Error())
		return c
	}
	c.Status, c.Message = StatusOK, "reachable"
	return c
}

func (d *Doctor) checkVersion(ctx context.Context) Check {
	c := Check{Name: "Version", Details: []string{"Running: " + d.version}}
	if d.versions == nil {
		c.Status, c.Message = StatusOK, "update check skipped"
		return c
	}
	res, err := d.versions.Check(ctx, d.version)
	if err != nil {
		c.Status, c.Message = StatusOK, "update check unavailable: "+err.Error()
		return c
	}
	if res.UpdateAvailable {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("update available: %s", res.LatestVersion)
		if res.ReleaseURL != "" {
			c.Details = append(c.Details, "Release: "+res.ReleaseURL)
		}
		return c
	}
	c.Status, c.Message = StatusOK, "up to date"
	return c
}

// Render formats the report under the given title.
func (r *Report) Render(title string) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	if !strings.HasPrefix(title, "=") {
		b.WriteString(strings.Repeat("=", len(title)) + "\n")
	}
	fmt.Fprintf(&b, "Project: %s\n", r.ProjectRoot)
	fmt.Fprintf(&b, "Version: %s\n", r.Version)
	fmt.Fprintf(&b, "Overall: %s\n", r.Overall)
	for _, c := range r.Checks {
		fmt.Fprintf(&b, "\n[%s] %s: %s\n", c.Status, c.Name, c.Message)
		for _, line := range c.Details {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	return b.String()
}

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
