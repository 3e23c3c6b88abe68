// Package procutil cleans up browser processes orphaned by crashed runs.
// A stale headless Chromium holds the persistent profile lock and blocks
// the next session from launching.
package procutil

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	Matched int
	Errors  []error
}

// stalePatterns identify browser processes launched by this tool rather
// than the operator's own browser.
func stalePatterns(userDataDir string) []string {
	patterns := []string{
		"--remote-debugging-pipe",
		"--disable-blink-features=AutomationControlled",
	}
	if userDataDir != "" {
		patterns = append([]string{"--user-data-dir=" + userDataDir}, patterns...)
	}
	return patterns
}

// CleanupStaleBrowsers kills leftover automation browser processes by
// command-line pattern. pkill exit status 1 means nothing matched and is
// not an error.
func CleanupStaleBrowsers(userDataDir string, logger *slog.Logger) CleanupResult {
	var result CleanupResult
	for _, pattern := range stalePatterns(userDataDir) {
		matched, err := pkill("-f", pattern)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("pkill %q: %w", pattern, err))
			continue
		}
		if matched {
			result.Matched++
			logger.Info("killed stale browser processes", "pattern", pattern)
		}
	}
	return result
}

// ForceKillChromium kills every Chromium process by exact name. Last
// resort only: this also takes down browsers the operator is using.
func ForceKillChromium(logger *slog.Logger) error {
	matched, err := pkill("-x", "Chromium")
	if err != nil {
		return fmt.Errorf("failed to kill chromium: %w", err)
	}
	if matched {
		logger.Warn("force-killed chromium processes")
	}
	return nil
}

func pkill(args ...string) (matched bool, err error) {
	cmd := exec.Command("pkill", args...)
	runErr := cmd.Run()
	if runErr == nil {
		return true, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, runErr
}
