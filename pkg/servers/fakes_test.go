package servers

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
)

type memStore struct {
	mu      sync.Mutex
	reg     registry.Registry
	updates int
	err     error
	loadErr error
}

func (s *memStore) Snapshot() registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Clone()
}

func (s *memStore) Update(fn func(*registry.Registry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	next := s.reg.Clone()
	fn(&next)
	next.Normalize()
	if next.Equal(s.reg) {
		return nil
	}
	s.reg = next
	s.updates++
	return nil
}

func (s *memStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

func (s *memStore) setLoadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// edit changes the registry behind the model's back.
func (s *memStore) edit(fn func(*registry.Registry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.reg)
	s.reg.Normalize()
}

type fakeSession struct {
	opts remote.ConnectionOptions

	mu     sync.Mutex
	closed int
}

func (f *fakeSession) ID() string                        { return "sess-" + f.opts.Host }
func (f *fakeSession) Options() remote.ConnectionOptions { return f.opts }
func (f *fakeSession) Secret() string                    { return "" }

func (f *fakeSession) Run(ctx context.Context, command string) ([]byte, error) {
	return nil, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type connectFunc func(ctx context.Context, opts remote.ConnectionOptions, sink remote.PromptSink) (remote.Session, error)

type fakeConnector struct {
	mu      sync.Mutex
	calls   int
	connect connectFunc
}

func (c *fakeConnector) Connect(ctx context.Context, opts remote.ConnectionOptions, sink remote.PromptSink) (remote.Session, error) {
	c.mu.Lock()
	c.calls++
	fn := c.connect
	c.mu.Unlock()
	if fn == nil {
		return &fakeSession{opts: opts}, nil
	}
	return fn(ctx, opts, sink)
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeLister struct {
	home string
	tree map[string][]string
}

func (l fakeLister) DefaultQuery(ctx context.Context, sess remote.Session) (string, error) {
	return l.home, nil
}

func (l fakeLister) ListDirs(ctx context.Context, sess remote.Session, dir string) ([]string, error) {
	var out []string
	for _, name := range l.tree[dir] {
		out = append(out, path.Join(dir, name))
	}
	return out, nil
}

type fakeOpener struct {
	mu     sync.Mutex
	opened [][]string
	err    error
}

func (o *fakeOpener) Open(ctx context.Context, sess remote.Session, paths []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, append([]string(nil), paths...))
	return o.err
}

type fakeClipboard struct{ text string }

func (c *fakeClipboard) WriteAll(text string) error {
	if text == "" {
		return errors.New("empty")
	}
	c.text = text
	return nil
}

type fixture struct {
	store     *memStore
	connector *fakeConnector
	opener    *fakeOpener
	clipboard *fakeClipboard
	pool      *remote.Pool
}

func newFixture(hosts ...string) *fixture {
	f := &fixture{
		store:     &memStore{},
		connector: &fakeConnector{},
		opener:    &fakeOpener{},
		clipboard: &fakeClipboard{},
		pool:      remote.NewPool(),
	}
	for _, h := range hosts {
		f.store.reg.AddServer(remote.ConnectionOptions{Host: h})
	}
	return f
}

func (f *fixture) model() Model {
	return New(Options{
		Store:     f.store,
		Connector: f.connector,
		Lister: fakeLister{
			home: "/home/alice/",
			tree: map[string][]string{"/home/alice": {"notes", "proj"}},
		},
		Opener:    f.opener,
		Pool:      f.pool,
		Clipboard: f.clipboard,
		Theme:     NoTheme(),
	})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("expected servers.Model, got %T", next)
	}
	return out, cmd
}

func press(t *testing.T, m Model, k tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: k})
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

// await runs cmd (expanding batches) and returns the first message of type T.
func await[T any](t *testing.T, cmd tea.Cmd) T {
	t.Helper()
	ch := make(chan tea.Msg, 64)
	var launch func(tea.Cmd)
	launch = func(c tea.Cmd) {
		if c == nil {
			return
		}
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, sub := range batch {
					launch(sub)
				}
				return
			}
			ch <- msg
		}()
	}
	launch(cmd)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func unreachable(host string) connectFunc {
	return func(ctx context.Context, opts remote.ConnectionOptions, sink remote.PromptSink) (remote.Session, error) {
		return nil, &remote.ConnectError{
			Kind: remote.FailureHostUnreachable,
			Host: opts.Host,
			Err:  errors.New("dial tcp " + host + ":22: connect: no route to host"),
		}
	}
}

func blockUntilCancelled(started chan<- struct{}, cancelled chan<- struct{}) connectFunc {
	return func(ctx context.Context, opts remote.ConnectionOptions, sink remote.PromptSink) (remote.Session, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, &remote.ConnectError{Kind: remote.FailureUserCancelled, Host: opts.Host, Err: ctx.Err()}
	}
}

func hasPrefixAll(items []string, prefix string) bool {
	for _, it := range items {
		if !strings.HasPrefix(it, prefix) {
			return false
		}
	}
	return true
}
