package ralph

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/runner"
)

// alwaysForbidden are paths no patch may write, in any project.
var alwaysForbidden = []string{".tinyMem", ".tinymem", ".gemini", "tinyTasks.md", ".git"}

// SafetyViolationError aborts a session.
type SafetyViolationError struct {
	Target string
	Rule   string
}

func (e *SafetyViolationError) Error() string {
	return fmt.Sprintf("safety violation: %s (%s)", e.Target, e.Rule)
}

// checkCommand runs before any execution. Besides the command policy it
// rejects commands whose arguments name a protected or forbidden path.
func checkCommand(root, command string, safety SafetyOptions) error {
	if strings.TrimSpace(command) == "" {
		return &SafetyViolationError{Target: command, Rule: "empty command"}
	}
	for _, f := range safety.ForbidCommands {
		if f != "" && strings.Contains(command, f) {
			return &SafetyViolationError{Target: command, Rule: "forbidden command " + f}
		}
	}
	if !safety.AllowShell && runner.NeedsShell(command) {
		return &SafetyViolationError{Target: command, Rule: "shell syntax requires allow_shell"}
	}
	for _, arg := range pathArgs(command) {
		rel, ok := relToRoot(root, arg)
		if !ok {
			continue
		}
		if rule := forbiddenRule(root, rel, safety); rule != "" {
			return &SafetyViolationError{Target: command, Rule: rule}
		}
	}
	return nil
}

// pathArgs returns the command words that may name a path: plain words,
// and the values of key=value or --flag=value words.
func pathArgs(command string) []string {
	var out []string
	for _, w := range strings.Fields(command) {
		w = strings.Trim(w, `"'`)
		if i := strings.LastIndex(w, "="); i >= 0 {
			w = w[i+1:]
		} else if strings.HasPrefix(w, "-") {
			continue
		}
		if w = strings.Trim(w, `"'`); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// relToRoot turns p into a slash-separated path relative to root. It
// reports false for the root itself and for paths outside it.
func relToRoot(root, p string) (string, bool) {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(root, p)
		if err != nil {
			return "", false
		}
		p = r
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// forbiddenRule returns the rule rel breaks, or "" when it is allowed.
// Forbidden entries may be relative to root or absolute.
func forbiddenRule(root, rel string, safety SafetyOptions) string {
	for _, f := range alwaysForbidden {
		if matchesPrefix(rel, f) {
			return "protected path " + f
		}
	}
	for _, entry := range safety.ForbidPaths {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		f, ok := relToRoot(root, entry)
		if !ok {
			continue
		}
		if matchesPrefix(rel, f) {
			return "forbidden path " + entry
		}
		if m, _ := filepath.Match(f, rel); m {
			return "forbidden path " + entry
		}
	}
	return ""
}

// checkPath validates a patch target and returns its absolute path.
func checkPath(ctx context.Context, root, path string, safety SafetyOptions) (string, error) {
	abs, err := evidence.ResolveSafePath(root, path)
	if err != nil {
		return "", &SafetyViolationError{Target: path, Rule: "outside project root"}
	}
	rel, ok := relToRoot(root, abs)
	if !ok {
		return "", &SafetyViolationError{Target: path, Rule: "outside project root"}
	}
	if rule := forbiddenRule(root, rel, safety); rule != "" {
		return "", &SafetyViolationError{Target: path, Rule: rule}
	}
	if gitIgnored(ctx, root, rel) {
		return "", &SafetyViolationError{Target: path, Rule: "ignored by git"}
	}
	return abs, nil
}

// matchesPrefix reports whether rel is prefix or lies beneath it.
func matchesPrefix(rel, prefix string) bool {
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

// gitIgnored asks git whether rel is ignored. Outside a repository, or
// without git installed, nothing is ignored.
func gitIgnored(ctx context.Context, root, rel string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "check-ignore", "-q", "--", rel)
	cmd.Dir = root
	return cmd.Run() == nil
}

// gitDiff returns the working tree diff, or "" outside a repository.
func gitDiff(ctx context.Context, root string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "diff", "--no-color")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
