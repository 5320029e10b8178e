package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"remote-projects/pkg/config"
	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
)

type stubSession struct{ opts remote.ConnectionOptions }

func (s stubSession) ID() string                        { return "stub" }
func (s stubSession) Options() remote.ConnectionOptions { return s.opts }
func (s stubSession) Secret() string                    { return "" }
func (s stubSession) Close() error                      { return nil }

func (s stubSession) Run(ctx context.Context, command string) ([]byte, error) {
	return []byte("Linux " + s.opts.Host + "\n"), nil
}

type stubConnector struct{ err error }

func (c stubConnector) Connect(ctx context.Context, opts remote.ConnectionOptions, sink remote.PromptSink) (remote.Session, error) {
	if c.err != nil {
		return nil, c.err
	}
	return stubSession{opts: opts}, nil
}

func newTestApp(t *testing.T, conn remote.Connector) (*app, *bytes.Buffer) {
	t.Helper()
	store, err := registry.OpenStore(filepath.Join(t.TempDir(), "servers.yaml"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var out bytes.Buffer
	return &app{
		cfg:       config.Default(),
		store:     store,
		logger:    log.New(io.Discard),
		out:       &out,
		connector: conn,
	}, &out
}

func TestSubcommands_ManageRegistry(t *testing.T) {
	a, out := newTestApp(t, stubConnector{})
	ctx := context.Background()

	steps := [][]string{
		{"add", "ssh", "alice@example.com", "-p", "2222"},
		{"add", "bob@other.example.com"},
		{"nickname", "1", "build", "box"},
		{"project", "add", "0", "/srv/app"},
		{"project", "add", "0", "/srv/app"},
		{"remove", "1"},
	}
	for _, args := range steps {
		if err := a.runSubcommand(ctx, args); err != nil {
			t.Fatalf("%v: unexpected error: %v", args, err)
		}
	}

	reg := a.store.Snapshot()
	if len(reg.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(reg.Servers))
	}
	s := reg.Servers[0]
	if s.Host != "example.com" || s.Port != 2222 || s.Username != "alice" || len(s.Projects) != 1 {
		t.Fatalf("unexpected server %+v", s)
	}
	if !strings.Contains(out.String(), "removed build box") {
		t.Fatalf("expected removal message, got %q", out.String())
	}

	out.Reset()
	if err := a.runSubcommand(ctx, []string{"list"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "alice@example.com:2222") || !strings.Contains(out.String(), "/srv/app") {
		t.Fatalf("unexpected list output %q", out.String())
	}
}

func TestSubcommands_Errors(t *testing.T) {
	a, _ := newTestApp(t, stubConnector{})
	ctx := context.Background()

	if err := a.runSubcommand(ctx, []string{"frobnicate"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	err := a.runSubcommand(ctx, []string{"add", "ssh", "-Z", "host"})
	var pe *remote.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if exitCodeFromErr(err) != 2 {
		t.Fatalf("expected exit code 2 for parse errors")
	}
	if err := a.runSubcommand(ctx, []string{"remove", "7"}); err == nil {
		t.Fatalf("expected error for missing index")
	}
	if len(a.store.Snapshot().Servers) != 0 {
		t.Fatalf("expected registry to stay empty")
	}
}

func TestSubcommands_Connect(t *testing.T) {
	a, out := newTestApp(t, stubConnector{})
	ctx := context.Background()
	if err := a.runSubcommand(ctx, []string{"add", "example.com"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.runSubcommand(ctx, []string{"connect", "0"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !strings.Contains(out.String(), "connected to example.com: Linux example.com") {
		t.Fatalf("unexpected output %q", out.String())
	}

	a.connector = stubConnector{err: &remote.ConnectError{Kind: remote.FailureAuthRejected, Host: "example.com"}}
	err := a.runSubcommand(ctx, []string{"connect", "0"})
	if remote.FailureKindOf(err) != remote.FailureAuthRejected {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestTerminalPrompter_PipedAnswersSurviveBetweenPrompts(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	if _, err := w.WriteString("yes\nhunter2\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	p := newTerminalPrompter(r, io.Discard)
	ctx := context.Background()
	first, err := p.Prompt(ctx, remote.Prompt{Kind: remote.PromptHostKey, Message: "Continue?", Echo: true})
	if err != nil || first != "yes" {
		t.Fatalf("expected yes, got %q (%v)", first, err)
	}
	second, err := p.Prompt(ctx, remote.Prompt{Kind: remote.PromptPassword, Message: "Password"})
	if err != nil || second != "hunter2" {
		t.Fatalf("expected hunter2, got %q (%v)", second, err)
	}
	if _, err := p.Prompt(ctx, remote.Prompt{Kind: remote.PromptPassword, Message: "Password"}); !errors.Is(err, remote.ErrPromptCancelled) {
		t.Fatalf("expected ErrPromptCancelled at EOF, got %v", err)
	}
}
