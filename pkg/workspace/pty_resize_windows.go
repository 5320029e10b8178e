//go:build windows

package workspace

import "os"

// Windows has no SIGWINCH; the PTY keeps its initial size.
func startPTYResizeWatcher(_ *os.File) {}
