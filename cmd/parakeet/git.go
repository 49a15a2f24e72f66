package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// findGitRoot walks up from startPath until it finds a .git entry.
// A .git file (worktree or submodule checkout) counts the same as a
// directory. Returns "" when the path is not under version control.
func findGitRoot(startPath string) string {
	dir, err := filepath.Abs(startPath)
	if err != nil {
		return ""
	}
	if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for dir != filepath.Dir(dir) {
		if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// gitVaultState reports the current branch and how many files are
// modified or untracked. Doctor surfaces it as a pre-apply signal;
// parakeet itself never runs git.
func gitVaultState(root string) (branch string, dirty, untracked int, err error) {
	branch, err = runGit(root, "branch", "--show-current")
	if err != nil {
		return "", 0, 0, err
	}
	status, err := runGit(root, "status", "--porcelain")
	if err != nil {
		return branch, 0, 0, err
	}
	dirty, untracked = countPorcelain(status)
	return branch, dirty, untracked, nil
}

func runGit(root string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// countPorcelain tallies 'git status --porcelain' lines: "??" entries
// are untracked, everything else counts as dirty.
func countPorcelain(status string) (dirty, untracked int) {
	for _, line := range strings.Split(status, "\n") {
		if len(strings.TrimSpace(line)) < 3 {
			continue
		}
		if strings.HasPrefix(line, "??") {
			untracked++
		} else {
			dirty++
		}
	}
	return dirty, untracked
}
