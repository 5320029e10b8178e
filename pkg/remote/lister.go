package remote

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ShellLister lists remote directories by running POSIX shell commands over a Session.
type ShellLister struct{}

// DefaultQuery returns the remote working directory (normally $HOME) with a trailing slash.
func (ShellLister) DefaultQuery(ctx context.Context, sess Session) (string, error) {
	out, err := sess.Run(ctx, "pwd")
	if err != nil {
		return "", fmt.Errorf("pwd: %w", err)
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" || !strings.HasPrefix(dir, "/") {
		return "/", nil
	}
	return strings.TrimSuffix(dir, "/") + "/", nil
}

// ListDirs returns the absolute paths of the subdirectories of dir, sorted.
func (ShellLister) ListDirs(ctx context.Context, sess Session, dir string) ([]string, error) {
	if !path.IsAbs(dir) {
		return nil, fmt.Errorf("not an absolute path: %q", dir)
	}
	out, err := sess.Run(ctx, "ls -1Ap -- "+ShellQuote(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return parseDirListing(dir, string(out)), nil
}

// parseDirListing keeps the "name/" entries of `ls -1Ap` output.
func parseDirListing(dir, out string) []string {
	var dirs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasSuffix(line, "/") {
			continue
		}
		name := strings.TrimSuffix(line, "/")
		if name == "" || name == "." || name == ".." {
			continue
		}
		dirs = append(dirs, path.Join(dir, name))
	}
	sort.Strings(dirs)
	return dirs
}
