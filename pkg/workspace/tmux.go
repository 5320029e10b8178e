package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"remote-projects/pkg/remote"
)

// Socket-aware tmux command runner.
//
// The TMUX environment variable holds the server socket plus metadata:
//
//	TMUX=/private/tmp/tmux-502/default,35218,0
//
// Commands are sent with `tmux -S <socket>` so they reach the server this process runs under,
// even from popups and run-shell contexts with a different client environment.
//
// Do not pass secrets via tmux commands.

var ErrNotInTmux = errors.New("not in tmux")

// TmuxSocketPathFromEnv parses $TMUX and returns the socket path portion.
// If TMUX is empty or malformed, returns "".
func TmuxSocketPathFromEnv() string {
	t := strings.TrimSpace(os.Getenv("TMUX"))
	if t == "" {
		return ""
	}
	if i := strings.IndexByte(t, ','); i >= 0 {
		return t[:i]
	}
	return t
}

// InTmux reports whether this process runs inside a tmux client.
func InTmux() bool { return TmuxSocketPathFromEnv() != "" }

// TmuxCmd creates an exec.Cmd to run tmux against the current socket when known.
func TmuxCmd(ctx context.Context, args ...string) (*exec.Cmd, error) {
	if len(args) == 0 {
		return nil, errors.New("tmux: empty args")
	}
	full := make([]string, 0, len(args)+2)
	if socket := TmuxSocketPathFromEnv(); socket != "" {
		full = append(full, "-S", socket)
	}
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, "tmux", full...)
	cmd.Stdin = nil
	return cmd, nil
}

// TmuxOutput runs a tmux command and returns stdout (trimmed) or an error containing stderr.
func TmuxOutput(ctx context.Context, args ...string) (string, error) {
	cmd, err := TmuxCmd(ctx, args...)
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if runErr := cmd.Run(); runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return "", fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// TmuxOpener opens each project as a new tmux window, one pane per path.
type TmuxOpener struct {
	Logger *log.Logger

	// Output runs tmux; nil means TmuxOutput.
	Output func(ctx context.Context, args ...string) (string, error)
	// InTmux overrides environment detection; nil means InTmux.
	InTmux func() bool
}

func (o *TmuxOpener) output(ctx context.Context, args ...string) (string, error) {
	if o.Output != nil {
		return o.Output(ctx, args...)
	}
	return TmuxOutput(ctx, args...)
}

func (o *TmuxOpener) inTmux() bool {
	if o.InTmux != nil {
		return o.InTmux()
	}
	return InTmux()
}

func (o *TmuxOpener) Open(ctx context.Context, sess remote.Session, paths []string) error {
	if !o.inTmux() {
		return &OpenError{Paths: paths, Err: ErrNotInTmux}
	}
	if err := ValidateRemoteDirs(ctx, sess, paths); err != nil {
		return err
	}
	opts := sess.Options()

	paneID, err := o.output(ctx,
		"new-window", "-P", "-F", "#{pane_id}",
		"-n", WindowName(opts, paths),
		QuoteArgv(SSHArgv(opts, ShellInDir(paths[0]))),
	)
	if err != nil {
		return &OpenError{Paths: paths, Err: err}
	}
	paneID = strings.TrimSpace(paneID)

	for _, p := range paths[1:] {
		if _, err := o.output(ctx, "split-window", "-t", paneID, QuoteArgv(SSHArgv(opts, ShellInDir(p)))); err != nil {
			return &OpenError{Paths: []string{p}, Err: err}
		}
	}
	if len(paths) > 1 {
		if _, err := o.output(ctx, "select-layout", "-t", paneID, "tiled"); err != nil && o.Logger != nil {
			o.Logger.Warn("select-layout failed", "err", err)
		}
	}
	if o.Logger != nil {
		o.Logger.Info("opened tmux window", "host", opts.ConnectionString(), "paths", paths, "pane", paneID)
	}
	return nil
}
