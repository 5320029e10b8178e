package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remote-projects/pkg/remote"
)

type fakeSession struct {
	opts   remote.ConnectionOptions
	dirs   map[string]bool
	secret string
}

func (f *fakeSession) ID() string                        { return "fake" }
func (f *fakeSession) Options() remote.ConnectionOptions { return f.opts }
func (f *fakeSession) Secret() string                    { return f.secret }
func (f *fakeSession) Close() error                      { return nil }

func (f *fakeSession) Run(ctx context.Context, command string) ([]byte, error) {
	for dir, ok := range f.dirs {
		if command == "test -d "+remote.ShellQuote(dir) {
			if ok {
				return nil, nil
			}
			break
		}
	}
	return nil, errors.New("exit status 1")
}

func TestSSHArgv(t *testing.T) {
	opts := remote.ConnectionOptions{Host: "example.com", Username: "alice", Port: 2222, Args: []string{"-A"}}
	got := strings.Join(SSHArgv(opts, ""), " ")
	if got != "ssh -p 2222 -A alice@example.com" {
		t.Fatalf("unexpected argv: %s", got)
	}
	got = QuoteArgv(SSHArgv(opts, ShellInDir("/srv/my app")))
	want := `ssh -t -p 2222 -A alice@example.com 'cd '"'"'/srv/my app'"'"' && exec "${SHELL:-/bin/sh}" -l'`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestWindowName(t *testing.T) {
	opts := remote.ConnectionOptions{Host: "box"}
	if got := WindowName(opts, []string{"/home/alice/src/api"}); got != "api@box" {
		t.Fatalf("unexpected window name %q", got)
	}
	if got := WindowName(opts, []string{"/"}); got != "/@box" {
		t.Fatalf("unexpected window name for root %q", got)
	}
}

func TestValidateRemoteDirs(t *testing.T) {
	sess := &fakeSession{opts: remote.ConnectionOptions{Host: "box"}, dirs: map[string]bool{"/srv/app": true}}
	if err := ValidateRemoteDirs(context.Background(), sess, []string{"/srv/app"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ValidateRemoteDirs(context.Background(), sess, []string{"/srv/app", "/missing"})
	var oe *OpenError
	if !errors.As(err, &oe) || len(oe.Paths) != 1 || oe.Paths[0] != "/missing" {
		t.Fatalf("expected OpenError for /missing, got %v", err)
	}

	if err := ValidateRemoteDirs(context.Background(), sess, nil); !errors.Is(err, ErrNoPaths) {
		t.Fatalf("expected ErrNoPaths, got %v", err)
	}
}

func TestTmuxOpener_NewWindowAndSplits(t *testing.T) {
	var calls [][]string
	o := &TmuxOpener{
		InTmux: func() bool { return true },
		Output: func(ctx context.Context, args ...string) (string, error) {
			calls = append(calls, args)
			if args[0] == "new-window" {
				return "%7\n", nil
			}
			return "", nil
		},
	}
	sess := &fakeSession{opts: remote.ConnectionOptions{Host: "box"}, dirs: map[string]bool{"/a": true, "/b": true}}
	if err := o.Open(context.Background(), sess, []string{"/a", "/b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected new-window, split-window, select-layout; got %v", calls)
	}
	if calls[0][0] != "new-window" || !strings.Contains(calls[0][len(calls[0])-1], "/a") {
		t.Fatalf("unexpected new-window call: %v", calls[0])
	}
	if calls[1][0] != "split-window" || calls[1][2] != "%7" {
		t.Fatalf("expected split targeting %%7, got %v", calls[1])
	}
}

func TestTmuxOpener_OutsideTmux(t *testing.T) {
	o := &TmuxOpener{InTmux: func() bool { return false }}
	err := o.Open(context.Background(), &fakeSession{}, []string{"/a"})
	if !errors.Is(err, ErrNotInTmux) {
		t.Fatalf("expected ErrNotInTmux, got %v", err)
	}
}

func TestExecOpener_RecordsLaunch(t *testing.T) {
	o := &ExecOpener{}
	if _, ok := o.Pending(); ok {
		t.Fatalf("expected nothing pending")
	}
	sess := &fakeSession{opts: remote.ConnectionOptions{Host: "box", Username: "u"}, dirs: map[string]bool{"/w": true}, secret: "hunter2"}
	if err := o.Open(context.Background(), sess, []string{"/w"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, ok := o.Pending()
	if !ok {
		t.Fatalf("expected pending launch")
	}
	if l.Secret != "hunter2" || l.Argv[len(l.Argv)-2] != "u@box" {
		t.Fatalf("unexpected launch: %+v", l)
	}

	if err := o.Open(context.Background(), sess, []string{"/nope"}); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestPromptDetector(t *testing.T) {
	d := newPromptDetector(time.Minute)
	if d.feed([]byte("Welcome\r\n")) {
		t.Fatalf("expected no prompt yet")
	}
	if d.feed([]byte("alice@box's pass")) {
		t.Fatalf("expected partial prompt not to match")
	}
	if !d.feed([]byte("word: ")) {
		t.Fatalf("expected prompt split across chunks to match")
	}
	if d.feed([]byte("\r\nPassword: ")) {
		t.Fatalf("expected detector to fire only once")
	}

	late := newPromptDetector(time.Minute)
	late.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if late.feed([]byte("Password:")) {
		t.Fatalf("expected no detection after deadline")
	}
}

func TestNewOpener(t *testing.T) {
	t.Setenv("TMUX", "")
	o, err := New("auto", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := o.(*ExecOpener); !ok {
		t.Fatalf("expected exec opener outside tmux, got %T", o)
	}
	t.Setenv("TMUX", "/tmp/tmux-1/default,1,0")
	o, _ = New("", nil)
	if _, ok := o.(*TmuxOpener); !ok {
		t.Fatalf("expected tmux opener inside tmux, got %T", o)
	}
	if _, err := New("xterm", nil); err == nil {
		t.Fatalf("expected unknown opener error")
	}
}
