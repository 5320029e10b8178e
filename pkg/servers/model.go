// Package servers is the remote servers modal: a bubbletea model that registers SSH hosts,
// connects to them, and hands a chosen project directory to the workspace opener.
package servers

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
	"remote-projects/pkg/workspace"
)

// Persistence stores the registry. *registry.Store implements it.
type Persistence interface {
	Snapshot() registry.Registry
	Update(fn func(*registry.Registry)) error
	// Err reports why the last reload from disk failed, if it did.
	Err() error
}

// DirectoryLister suggests directories on a connected host. remote.ShellLister implements it.
type DirectoryLister interface {
	DefaultQuery(ctx context.Context, sess remote.Session) (string, error)
	ListDirs(ctx context.Context, sess remote.Session, dir string) ([]string, error)
}

type Clipboard interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// DismissMsg asks the modal to close. It is honoured only from the server list.
type DismissMsg struct{}

type pollMsg struct{}

type statusClearMsg struct{ seq int }

const statusTTL = 4 * time.Second

// Options configures New. Store, Connector and Opener are required.
type Options struct {
	Store     Persistence
	Connector remote.Connector
	Lister    DirectoryLister
	Opener    workspace.Opener
	Pool      *remote.Pool
	Clipboard Clipboard
	Logger    *log.Logger

	// DefaultUploadPolicy is applied to servers added through the modal.
	DefaultUploadPolicy registry.UploadPolicy
	// PollInterval controls how often the registry file is checked for outside edits.
	PollInterval time.Duration
	// Context bounds every connection attempt and remote command.
	Context context.Context
	Theme   Theme
}

// Model is the bubbletea model of the modal.
type Model struct {
	store     Persistence
	connector remote.Connector
	lister    DirectoryLister
	pool      *remote.Pool
	clipboard Clipboard
	handoff   *Handoff
	logger    *log.Logger
	ctx       context.Context

	defaultPolicy registry.UploadPolicy
	poll          time.Duration

	theme    Theme
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	spinning bool

	mode       Mode
	listCursor int
	seq        int

	status    string
	statusErr bool
	statusSeq int
	storeErr  string

	width     int
	dismissed bool
	quitting  bool
}

func New(opts Options) Model {
	if opts.Lister == nil {
		opts.Lister = remote.ShellLister{}
	}
	if opts.Pool == nil {
		opts.Pool = remote.NewPool()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = systemClipboard{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = opts.Theme.Accent

	m := Model{
		store:         opts.Store,
		connector:     opts.Connector,
		lister:        opts.Lister,
		pool:          opts.Pool,
		clipboard:     opts.Clipboard,
		handoff:       &Handoff{Store: opts.Store, Opener: opts.Opener, Logger: opts.Logger},
		logger:        opts.Logger,
		ctx:           opts.Context,
		defaultPolicy: opts.DefaultUploadPolicy,
		poll:          opts.PollInterval,
		theme:         opts.Theme,
		keys:          defaultKeyMap(),
		help:          help.New(),
		spinner:       sp,
	}
	m.mode = newDefaultMode(m.store.Snapshot(), 0)
	return m
}

func (m Model) Init() tea.Cmd {
	return m.pollTick()
}

// Mode returns the current workflow mode.
func (m Model) Mode() Mode { return m.mode }

// Dismissed reports whether the modal closed normally: dismissed from the list or after a
// project was handed off.
func (m Model) Dismissed() bool { return m.dismissed }

// AttemptInFlight reports whether a connection attempt is running.
func (m Model) AttemptInFlight() bool { return m.currentAttempt() != nil }

// Status returns the status line and whether it reports an error.
func (m Model) Status() (string, bool) { return m.status, m.statusErr }

func (m Model) Pool() *remote.Pool { return m.pool }

func (m Model) pollTick() tea.Cmd {
	return tea.Tick(m.poll, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.reconcile()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case pollMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.checkStore(), m.pollTick())

	case statusClearMsg:
		if msg.seq == m.statusSeq {
			m.status, m.statusErr = "", false
		}
		return m, nil

	case DismissMsg:
		if _, ok := m.mode.(*DefaultMode); ok {
			m.dismissed = true
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case attemptPromptMsg:
		return m.onAttemptPrompt(msg)

	case attemptDoneMsg:
		return m.onAttemptDone(msg)

	case defaultQueryMsg:
		return m.onDefaultQuery(msg)

	case dirListingMsg:
		if p, ok := m.mode.(*PickingProjectMode); ok && p.seq == msg.mode {
			p.picker.setListing(msg)
		}
		return m, nil

	case handoffDoneMsg:
		return m.onHandoffDone(msg)

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.currentAttempt().stop()
			m.quitting = true
			return m, tea.Quit
		}
		return m.onKey(msg)
	}

	return m, m.forwardToInput(msg)
}

// reconcile rebuilds the list when the registry changed underneath it, and leaves
// index-addressed modes whose server moved or changed.
func (m *Model) reconcile() {
	live := m.store.Snapshot()
	switch md := m.mode.(type) {
	case *DefaultMode:
		if md.stale(live) {
			m.mode = newDefaultMode(live, md.cursor)
		}
	case *ViewingOptionsMode:
		if !live.Matches(md.index, md.fingerprint) {
			m.mode = newDefaultMode(live, m.listCursor)
		}
	case *EditingNicknameMode:
		if !live.Matches(md.index, md.fingerprint) {
			m.mode = newDefaultMode(live, m.listCursor)
		}
	}
}

func (m *Model) toDefault() {
	m.mode = newDefaultMode(m.store.Snapshot(), m.listCursor)
}

// checkStore reports a servers file that stopped loading, once per distinct error.
func (m *Model) checkStore() tea.Cmd {
	err := m.store.Err()
	if err == nil {
		m.storeErr = ""
		return nil
	}
	if err.Error() == m.storeErr {
		return nil
	}
	m.storeErr = err.Error()
	m.logger.Warn("servers file reload failed", "err", err)
	return m.setStatus("Servers file not reloaded: "+m.storeErr, true)
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.status, m.statusErr = text, isErr
	seq := m.statusSeq
	return tea.Tick(statusTTL, func(time.Time) tea.Msg { return statusClearMsg{seq: seq} })
}

func (m Model) currentAttempt() *attempt {
	switch md := m.mode.(type) {
	case *CreatingServerMode:
		return md.attempt
	case *ConnectingMode:
		return md.attempt
	}
	return nil
}

func (m Model) busy() bool {
	switch md := m.mode.(type) {
	case *CreatingServerMode:
		return md.attempt != nil
	case *ConnectingMode:
		return true
	case *PickingProjectMode:
		return md.handingOff || md.picker.loading
	}
	return false
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) nextSeq() int {
	m.seq++
	return m.seq
}

// updateServer applies fn only if the server at index still has fingerprint.
func (m *Model) updateServer(index int, fingerprint string, fn func(*registry.Registry)) (bool, error) {
	applied := false
	err := m.store.Update(func(r *registry.Registry) {
		if !r.Matches(index, fingerprint) {
			return
		}
		applied = true
		fn(r)
	})
	return applied, err
}

func (m Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch md := m.mode.(type) {
	case *DefaultMode:
		return m.keyDefault(md, msg)
	case *CreatingServerMode:
		return m.keyCreating(md, msg)
	case *ViewingOptionsMode:
		return m.keyViewing(md, msg)
	case *EditingNicknameMode:
		return m.keyNickname(md, msg)
	case *ConnectingMode:
		return m.keyConnecting(md, msg)
	case *PickingProjectMode:
		return m.keyPicking(md, msg)
	}
	return m, nil
}

func (m Model) keyDefault(d *DefaultMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		d.move(-1)
	case key.Matches(msg, m.keys.Down):
		d.move(1)
	case key.Matches(msg, m.keys.Cancel):
		m.dismissed = true
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.New):
		m.listCursor = d.cursor
		m.mode = newCreatingServerMode("")
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Delete):
		e, ok := d.selected()
		if !ok || e.kind != entryProject {
			return m, nil
		}
		applied, err := m.updateServer(e.server, d.prints[e.server], func(r *registry.Registry) {
			r.RemoveProject(e.server, e.project)
		})
		if err != nil {
			m.logger.Error("remove project", "err", err)
			next := m.setStatus("Could not forget project: "+err.Error(), true)
			return m, next
		}
		m.toDefault()
		if applied {
			next := m.setStatus("Forgot "+e.project.String(), false)
			return m, next
		}
	case key.Matches(msg, m.keys.Confirm):
		e, ok := d.selected()
		if !ok {
			return m, nil
		}
		m.listCursor = d.cursor
		switch e.kind {
		case entryNewServer:
			m.mode = newCreatingServerMode("")
			return m, textinput.Blink
		case entryProject:
			p := e.project
			return m.startConnecting(e.server, d.servers[e.server], &p)
		case entryOpenFolder:
			return m.startConnecting(e.server, d.servers[e.server], nil)
		case entryServerOptions:
			m.mode = newViewingOptionsMode(e.server, d.servers[e.server])
		}
	}
	return m, nil
}

func (m Model) startConnecting(index int, server registry.ServerRecord, project *registry.ProjectRecord) (tea.Model, tea.Cmd) {
	opts := server.Options()
	m.logger.Info("connecting", "host", opts.ConnectionString())
	a, wait := beginAttempt(m.ctx, m.nextSeq(), m.connector, opts)
	m.mode = &ConnectingMode{index: index, server: server, attempt: a, project: project}
	next := tea.Batch(wait, m.startSpinner())
	return m, next
}

func (m Model) keyCreating(c *CreatingServerMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if c.attempt != nil {
		switch {
		case key.Matches(msg, m.keys.Cancel):
			c.attempt.stop()
			m.logger.Info("connection cancelled", "host", c.attempt.opts.ConnectionString())
			m.mode = newCreatingServerMode(c.input.Value())
			return m, textinput.Blink
		case c.attempt.prompt == nil:
			return m, nil
		case key.Matches(msg, m.keys.Confirm):
			return m, c.attempt.submit()
		}
		var cmd tea.Cmd
		c.attempt.answer, cmd = c.attempt.answer.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.toDefault()
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		text := c.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		opts, err := remote.ParseCommandLine(text)
		if err != nil {
			c.err = err.Error()
			return m, nil
		}
		c.err = ""
		c.input.Blur()
		m.logger.Info("connecting", "host", opts.ConnectionString())
		a, wait := beginAttempt(m.ctx, m.nextSeq(), m.connector, opts)
		c.attempt = a
		next := tea.Batch(wait, m.startSpinner())
		return m, next
	}
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return m, cmd
}

func (m Model) keyConnecting(c *ConnectingMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		c.attempt.stop()
		m.logger.Info("connection cancelled", "host", c.server.ConnectionString())
		m.toDefault()
		return m, nil
	case c.attempt.prompt == nil:
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		return m, c.attempt.submit()
	}
	var cmd tea.Cmd
	c.attempt.answer, cmd = c.attempt.answer.Update(msg)
	return m, cmd
}

func (m Model) onAttemptPrompt(msg attemptPromptMsg) (tea.Model, tea.Cmd) {
	a := m.currentAttempt()
	if a == nil || a.seq != msg.seq {
		return m, nil
	}
	m.logger.Debug("prompt", "host", a.opts.ConnectionString(), "kind", msg.prompt.Kind)
	return m, a.showPrompt(msg.prompt)
}

func (m Model) onAttemptDone(msg attemptDoneMsg) (tea.Model, tea.Cmd) {
	a := m.currentAttempt()
	if a == nil || a.seq != msg.seq {
		if msg.session != nil {
			m.logger.Debug("closing session from abandoned attempt", "host", msg.session.Options().ConnectionString())
			_ = msg.session.Close()
		}
		return m, nil
	}
	a.stop()
	host := a.opts.ConnectionString()

	switch md := m.mode.(type) {
	case *CreatingServerMode:
		if msg.err != nil {
			kind := remote.FailureKindOf(msg.err)
			fresh := newCreatingServerMode(md.input.Value())
			if kind != remote.FailureUserCancelled {
				fresh.err = msg.err.Error()
				m.logger.Warn("connection failed", "host", host, "kind", kind.String(), "err", msg.err)
			}
			m.mode = fresh
			return m, textinput.Blink
		}
		m.pool.Add(msg.session)
		m.logger.Info("connected", "host", host, "session", msg.session.ID())
		err := m.store.Update(func(r *registry.Registry) {
			i := r.AddServer(a.opts)
			if m.defaultPolicy != registry.UploadUnset {
				r.SetUploadPolicy(i, m.defaultPolicy)
			}
		})
		m.toDefault()
		if err != nil {
			m.logger.Error("save server", "host", host, "err", err)
			next := m.setStatus("Connected, but could not save server: "+err.Error(), true)
			return m, next
		}
		next := m.setStatus("Connected to "+host, false)
		return m, next

	case *ConnectingMode:
		if msg.err != nil {
			kind := remote.FailureKindOf(msg.err)
			m.toDefault()
			if kind == remote.FailureUserCancelled {
				return m, nil
			}
			m.logger.Warn("connection failed", "host", host, "kind", kind.String(), "err", msg.err)
			next := m.setStatus(msg.err.Error(), true)
			return m, next
		}
		m.pool.Add(msg.session)
		m.logger.Info("connected", "host", host, "session", msg.session.ID())
		p := newPickingProjectMode(m.nextSeq(), md.index, md.server, msg.session)
		m.mode = p
		if md.project != nil {
			p.handingOff = true
			p.picker.input.SetValue(md.project.String())
			next := tea.Batch(m.handoff.openCmd(m.ctx, p.seq, msg.session, *md.project), m.startSpinner())
			return m, next
		}
		next := tea.Batch(m.defaultQueryCmd(p), textinput.Blink, m.startSpinner())
		return m, next
	}
	return m, nil
}

func (m Model) defaultQueryCmd(p *PickingProjectMode) tea.Cmd {
	ctx, lister, sess, seq := m.ctx, m.lister, p.session, p.seq
	return func() tea.Msg {
		q, err := lister.DefaultQuery(ctx, sess)
		return defaultQueryMsg{seq: seq, query: q, err: err}
	}
}

func (m Model) listCmd(p *PickingProjectMode, dir string) tea.Cmd {
	ctx, lister, sess := m.ctx, m.lister, p.session
	mode, seq := p.seq, p.picker.seq
	return func() tea.Msg {
		dirs, err := lister.ListDirs(ctx, sess, dir)
		return dirListingMsg{mode: mode, seq: seq, dir: dir, dirs: dirs, err: err}
	}
}

func (m Model) onDefaultQuery(msg defaultQueryMsg) (tea.Model, tea.Cmd) {
	p, ok := m.mode.(*PickingProjectMode)
	if !ok || p.seq != msg.seq {
		return m, nil
	}
	q := msg.query
	if msg.err != nil {
		p.picker.err = msg.err.Error()
		q = "/"
	}
	if p.picker.input.Value() != "" {
		q = p.picker.input.Value()
	}
	if dir, ok := p.picker.setQuery(q); ok {
		return m, m.listCmd(p, dir)
	}
	return m, nil
}

func (m Model) keyPicking(p *PickingProjectMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if p.handingOff {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.toDefault()
		return m, nil
	case key.Matches(msg, m.keys.Up):
		p.picker.move(-1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		p.picker.move(1)
		return m, nil
	case key.Matches(msg, m.keys.Complete):
		if dir, ok := p.picker.complete(); ok {
			next := tea.Batch(m.listCmd(p, dir), m.startSpinner())
			return m, next
		}
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		sel, ok := p.picker.selection()
		if !ok {
			p.picker.err = "enter an absolute path"
			return m, nil
		}
		project, err := m.handoff.Persist(p.index, p.server, []string{sel})
		if err != nil {
			m.logger.Warn("save project", "host", p.server.ConnectionString(), "err", err)
			m.toDefault()
			next := m.setStatus(err.Error(), true)
			return m, next
		}
		p.handingOff = true
		next := tea.Batch(m.handoff.openCmd(m.ctx, p.seq, p.session, project), m.startSpinner())
		return m, next
	}
	var cmd tea.Cmd
	p.picker.input, cmd = p.picker.input.Update(msg)
	if dir, ok := p.picker.afterEdit(); ok {
		next := tea.Batch(cmd, m.listCmd(p, dir), m.startSpinner())
		return m, next
	}
	return m, cmd
}

func (m Model) onHandoffDone(msg handoffDoneMsg) (tea.Model, tea.Cmd) {
	p, ok := m.mode.(*PickingProjectMode)
	if !ok || p.seq != msg.seq {
		return m, nil
	}
	if msg.err != nil {
		m.logger.Warn("open project", "host", p.server.ConnectionString(), "err", msg.err)
		m.toDefault()
		next := m.setStatus(msg.err.Error(), true)
		return m, next
	}
	m.dismissed = true
	m.quitting = true
	return m, tea.Quit
}

func (m Model) keyViewing(v *ViewingOptionsMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if v.confirm != nil {
		switch {
		case key.Matches(msg, m.keys.Up):
			v.confirm.cursor = clamp(v.confirm.cursor-1, 0, len(v.confirm.options)-1)
		case key.Matches(msg, m.keys.Down):
			v.confirm.cursor = clamp(v.confirm.cursor+1, 0, len(v.confirm.options)-1)
		case key.Matches(msg, m.keys.Cancel):
			v.confirm = nil
		case key.Matches(msg, m.keys.Confirm):
			if v.confirm.cursor != 0 {
				v.confirm = nil
				return m, nil
			}
			applied, err := m.updateServer(v.index, v.fingerprint, func(r *registry.Registry) {
				r.RemoveServer(v.index)
			})
			m.toDefault()
			if err != nil {
				m.logger.Error("remove server", "err", err)
				next := m.setStatus("Could not remove server: "+err.Error(), true)
				return m, next
			}
			if applied {
				m.logger.Info("removed server", "host", v.server.ConnectionString())
				next := m.setStatus("Removed "+v.server.DisplayName(), false)
				return m, next
			}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		v.cursor = clamp(v.cursor-1, 0, len(serverOptions)-1)
	case key.Matches(msg, m.keys.Down):
		v.cursor = clamp(v.cursor+1, 0, len(serverOptions)-1)
	case key.Matches(msg, m.keys.Cancel):
		m.toDefault()
	case key.Matches(msg, m.keys.Confirm):
		switch serverOptions[v.cursor] {
		case optEditNickname:
			m.mode = newEditingNicknameMode(v.index, v.server)
			return m, textinput.Blink
		case optCopyAddress:
			addr := v.server.ConnectionString()
			if err := m.clipboard.WriteAll(addr); err != nil {
				next := m.setStatus("Could not copy: "+err.Error(), true)
				return m, next
			}
			next := m.setStatus("Copied "+addr, false)
			return m, next
		case optUploadPolicy:
			policy := v.server.UploadBinaryPolicy.Next()
			applied, err := m.updateServer(v.index, v.fingerprint, func(r *registry.Registry) {
				r.SetUploadPolicy(v.index, policy)
			})
			if err != nil {
				next := m.setStatus("Could not save policy: "+err.Error(), true)
				return m, next
			}
			if !applied {
				m.toDefault()
				return m, nil
			}
			if s, ok := m.store.Snapshot().Server(v.index); ok {
				v.server, v.fingerprint = s, s.Fingerprint()
			}
		case optRemoveServer:
			v.askRemove()
		case optGoBack:
			m.toDefault()
		}
	}
	return m, nil
}

func (m Model) keyNickname(e *EditingNicknameMode, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.toDefault()
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		nickname := e.input.Value()
		_, err := m.updateServer(e.index, e.fingerprint, func(r *registry.Registry) {
			r.SetNickname(e.index, nickname)
		})
		m.toDefault()
		if err != nil {
			next := m.setStatus("Could not save nickname: "+err.Error(), true)
			return m, next
		}
		return m, nil
	}
	var cmd tea.Cmd
	e.input, cmd = e.input.Update(msg)
	return m, cmd
}

// forwardToInput routes non-key messages such as cursor blinks to the focused text field.
func (m Model) forwardToInput(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch md := m.mode.(type) {
	case *CreatingServerMode:
		if md.attempt != nil && md.attempt.prompt != nil {
			md.attempt.answer, cmd = md.attempt.answer.Update(msg)
		} else {
			md.input, cmd = md.input.Update(msg)
		}
	case *ConnectingMode:
		if md.attempt.prompt != nil {
			md.attempt.answer, cmd = md.attempt.answer.Update(msg)
		}
	case *EditingNicknameMode:
		md.input, cmd = md.input.Update(msg)
	case *PickingProjectMode:
		md.picker.input, cmd = md.picker.input.Update(msg)
	}
	return cmd
}
