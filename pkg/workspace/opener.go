// Package workspace opens a remote project once a session is established and paths are chosen:
// a tmux window per project when running inside tmux, otherwise an interactive ssh launched
// under a PTY after the TUI exits.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"remote-projects/pkg/remote"
)

const (
	KindAuto = "auto"
	KindTmux = "tmux"
	KindExec = "exec"
)

var ErrNoPaths = errors.New("no paths to open")

// Opener opens a workspace for paths on the remote end of sess.
type Opener interface {
	Open(ctx context.Context, sess remote.Session, paths []string) error
}

// OpenError reports a workspace that could not be opened. The session stays usable.
type OpenError struct {
	Paths []string
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", strings.Join(e.Paths, ", "), e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// New returns the opener for kind ("auto", "tmux" or "exec").
func New(kind string, logger *log.Logger) (Opener, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindAuto:
		if InTmux() {
			return &TmuxOpener{Logger: logger}, nil
		}
		return &ExecOpener{Logger: logger}, nil
	case KindTmux:
		return &TmuxOpener{Logger: logger}, nil
	case KindExec:
		return &ExecOpener{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown opener %q (want auto, tmux or exec)", kind)
	}
}

// ValidateRemoteDirs checks that every path is an existing directory on the remote host.
func ValidateRemoteDirs(ctx context.Context, sess remote.Session, paths []string) error {
	if len(paths) == 0 {
		return &OpenError{Err: ErrNoPaths}
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return &OpenError{Paths: []string{p}, Err: errors.New("path is not absolute")}
		}
		if _, err := sess.Run(ctx, "test -d "+remote.ShellQuote(p)); err != nil {
			return &OpenError{
				Paths: []string{p},
				Err:   fmt.Errorf("not a directory on %s", sess.Options().ConnectionString()),
			}
		}
	}
	return nil
}
