package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"golang.org/x/term"

	"remote-projects/pkg/remote"
)

// Launch is an interactive ssh invocation deferred until the TUI has released the terminal.
type Launch struct {
	Argv   []string
	Paths  []string
	Secret string
}

// ExecOpener records the launch for a project; the caller runs it with RunPending once the
// terminal is free.
type ExecOpener struct {
	Logger *log.Logger

	mu      sync.Mutex
	pending *Launch
}

func (o *ExecOpener) Open(ctx context.Context, sess remote.Session, paths []string) error {
	if err := ValidateRemoteDirs(ctx, sess, paths); err != nil {
		return err
	}
	if len(paths) > 1 && o.Logger != nil {
		o.Logger.Warn("exec opener starts a shell in the first path only", "paths", paths)
	}
	l := &Launch{
		Argv:   SSHArgv(sess.Options(), ShellInDir(paths[0])),
		Paths:  append([]string(nil), paths...),
		Secret: sess.Secret(),
	}
	o.mu.Lock()
	o.pending = l
	o.mu.Unlock()
	return nil
}

// Pending returns the recorded launch, if any.
func (o *ExecOpener) Pending() (Launch, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return Launch{}, false
	}
	return *o.pending, true
}

// RunPending runs and clears the recorded launch. It is a no-op when nothing is pending.
func (o *ExecOpener) RunPending() error {
	o.mu.Lock()
	l := o.pending
	o.pending = nil
	o.mu.Unlock()
	if l == nil {
		return nil
	}
	if o.Logger != nil {
		o.Logger.Info("launching", "argv", QuoteArgv(l.Argv))
	}
	return l.Run()
}

// Run starts ssh under a PTY attached to the current terminal. When Secret is set the first
// password prompt seen within the detection window is answered with it.
func (l Launch) Run() error {
	if len(l.Argv) == 0 {
		return fmt.Errorf("empty command")
	}
	if l.Secret == "" {
		return runAttached(l.Argv)
	}

	flushTTYInput()

	cmd := exec.Command(l.Argv[0], l.Argv[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Without an explicit size the remote side can end up with a 0x0 terminal.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if cols, rows, sizeErr := term.GetSize(int(os.Stdout.Fd())); sizeErr == nil && rows > 0 && cols > 0 {
			_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		}
	}
	startPTYResizeWatcher(ptmx)

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		oldState, sErr := term.MakeRaw(fd)
		if sErr == nil {
			defer func() { _ = term.Restore(fd, oldState) }()
		}
		_, _ = fmt.Fprint(os.Stdout, "\033[?25h\033[0m")
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()

	det := newPromptDetector(30 * time.Second)
	buf := make([]byte, 4096)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 {
			_, _ = os.Stdout.Write(buf[:n])
			if det.feed(buf[:n]) {
				_, _ = ptmx.Write([]byte(l.Secret))
				_, _ = ptmx.Write([]byte("\r"))
			}
		}
		if rerr != nil {
			break
		}
	}
	return cmd.Wait()
}

func runAttached(argv []string) error {
	flushTTYInput()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

var passwordPromptRe = regexp.MustCompile(`(?i)(password|passcode|pass phrase|passphrase)\s*:?\s*$`)

// promptDetector watches PTY output for a password prompt, which may not end in a newline.
// It fires at most once and only before its deadline.
type promptDetector struct {
	tail     strings.Builder
	seen     bool
	deadline time.Time
	now      func() time.Time
}

const maxPromptTail = 2048

func newPromptDetector(window time.Duration) *promptDetector {
	return &promptDetector{deadline: time.Now().Add(window), now: time.Now}
}

func (d *promptDetector) feed(chunk []byte) bool {
	for _, b := range chunk {
		switch b {
		case 0:
			continue
		case '\r':
			d.tail.WriteByte('\n')
		default:
			d.tail.WriteByte(b)
		}
	}
	if d.tail.Len() > maxPromptTail {
		s := d.tail.String()
		d.tail.Reset()
		d.tail.WriteString(s[len(s)-maxPromptTail:])
	}

	if d.seen || !d.now().Before(d.deadline) {
		return false
	}
	s := d.tail.String()
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 && idx+1 < len(s) {
		s = s[idx+1:]
	}
	if passwordPromptRe.MatchString(strings.TrimSpace(s)) {
		d.seen = true
		return true
	}
	return false
}
