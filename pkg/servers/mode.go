package servers

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
)

// Mode is the active stage of the workflow. It is a closed set: DefaultMode,
// CreatingServerMode, ViewingOptionsMode, EditingNicknameMode, ConnectingMode and
// PickingProjectMode.
type Mode interface {
	isMode()
}

func (*DefaultMode) isMode()         {}
func (*CreatingServerMode) isMode()  {}
func (*ViewingOptionsMode) isMode()  {}
func (*EditingNicknameMode) isMode() {}
func (*ConnectingMode) isMode()      {}
func (*PickingProjectMode) isMode()  {}

type entryKind int

const (
	entryNewServer entryKind = iota
	entryProject
	entryOpenFolder
	entryServerOptions
)

// entry is one selectable row of the Default listing.
type entry struct {
	kind    entryKind
	server  int
	project registry.ProjectRecord
}

// DefaultMode lists servers and their projects as of a registry snapshot.
type DefaultMode struct {
	servers []registry.ServerRecord
	prints  []string
	entries []entry
	cursor  int
}

func newDefaultMode(reg registry.Registry, cursor int) *DefaultMode {
	d := &DefaultMode{servers: reg.Servers}
	for _, s := range reg.Servers {
		d.prints = append(d.prints, s.Fingerprint())
	}
	d.entries = append(d.entries, entry{kind: entryNewServer, server: -1})
	for i, s := range reg.Servers {
		for _, p := range s.Projects {
			d.entries = append(d.entries, entry{kind: entryProject, server: i, project: p})
		}
		d.entries = append(d.entries,
			entry{kind: entryOpenFolder, server: i},
			entry{kind: entryServerOptions, server: i},
		)
	}
	d.cursor = clamp(cursor, 0, len(d.entries)-1)
	return d
}

// Servers returns the listing snapshot.
func (d *DefaultMode) Servers() []registry.ServerRecord { return d.servers }

// stale reports whether live differs from the snapshot this listing was built from.
func (d *DefaultMode) stale(live registry.Registry) bool {
	if len(live.Servers) != len(d.prints) {
		return true
	}
	for i, s := range live.Servers {
		if s.Fingerprint() != d.prints[i] {
			return true
		}
	}
	return false
}

func (d *DefaultMode) selected() (entry, bool) {
	if d.cursor < 0 || d.cursor >= len(d.entries) {
		return entry{}, false
	}
	return d.entries[d.cursor], true
}

func (d *DefaultMode) move(delta int) {
	d.cursor = clamp(d.cursor+delta, 0, len(d.entries)-1)
}

// CreatingServerMode collects a connection command line and runs the first connection.
// It never holds an address error and a running attempt at the same time.
type CreatingServerMode struct {
	input   textinput.Model
	err     string
	attempt *attempt
}

func newCreatingServerMode(text string) *CreatingServerMode {
	in := textinput.New()
	in.Placeholder = "ssh user@example.com -p 22"
	in.Prompt = "> "
	in.CharLimit = 512
	in.SetValue(text)
	in.CursorEnd()
	in.Focus()
	return &CreatingServerMode{input: in}
}

func (c *CreatingServerMode) Input() string  { return c.input.Value() }
func (c *CreatingServerMode) Error() string  { return c.err }
func (c *CreatingServerMode) ReadOnly() bool { return !c.input.Focused() }

// Attempting reports whether a connection attempt is running.
func (c *CreatingServerMode) Attempting() bool { return c.attempt != nil }

// Prompt returns the prompt the running attempt is waiting on.
func (c *CreatingServerMode) Prompt() (remote.Prompt, bool) { return c.attempt.pending() }

type serverOption int

const (
	optEditNickname serverOption = iota
	optCopyAddress
	optUploadPolicy
	optRemoveServer
	optGoBack
)

var serverOptions = []serverOption{optEditNickname, optCopyAddress, optUploadPolicy, optRemoveServer, optGoBack}

func (o serverOption) label(s registry.ServerRecord) string {
	switch o {
	case optEditNickname:
		return "Edit Nickname"
	case optCopyAddress:
		return "Copy Server Address"
	case optUploadPolicy:
		return "Upload Binary: " + s.UploadBinaryPolicy.String()
	case optRemoveServer:
		return "Remove Server"
	default:
		return "Go Back"
	}
}

// confirmation is an inline question with fixed answers; index 0 is the affirmative one.
type confirmation struct {
	message string
	options []string
	cursor  int
}

// ViewingOptionsMode shows actions for one server. index and fingerprint are re-checked
// against the live registry before any mutation.
type ViewingOptionsMode struct {
	index       int
	server      registry.ServerRecord
	fingerprint string
	cursor      int
	confirm     *confirmation
}

func newViewingOptionsMode(index int, s registry.ServerRecord) *ViewingOptionsMode {
	return &ViewingOptionsMode{index: index, server: s, fingerprint: s.Fingerprint()}
}

func (v *ViewingOptionsMode) ServerIndex() int { return v.index }

// Confirming reports whether the remove confirmation is showing.
func (v *ViewingOptionsMode) Confirming() bool { return v.confirm != nil }

func (v *ViewingOptionsMode) askRemove() {
	v.confirm = &confirmation{
		message: fmt.Sprintf("Remove server `%s`?", v.server.ConnectionString()),
		options: []string{"Yes, remove it", "No, keep it"},
	}
}

// EditingNicknameMode edits the nickname of the server at index.
type EditingNicknameMode struct {
	index       int
	server      registry.ServerRecord
	fingerprint string
	input       textinput.Model
}

func newEditingNicknameMode(index int, s registry.ServerRecord) *EditingNicknameMode {
	in := textinput.New()
	in.Placeholder = s.ConnectionString()
	in.Prompt = "> "
	in.CharLimit = 128
	in.SetValue(s.Nickname)
	in.CursorEnd()
	in.Focus()
	return &EditingNicknameMode{index: index, server: s, fingerprint: s.Fingerprint(), input: in}
}

func (e *EditingNicknameMode) Input() string { return e.input.Value() }

// ConnectingMode connects to a saved server before picking or opening a project.
type ConnectingMode struct {
	index   int
	server  registry.ServerRecord
	attempt *attempt
	project *registry.ProjectRecord
}

func (c *ConnectingMode) Prompt() (remote.Prompt, bool) { return c.attempt.pending() }

// PickingProjectMode chooses a directory on a connected server and hands it off.
type PickingProjectMode struct {
	index      int
	server     registry.ServerRecord
	session    remote.Session
	picker     pathPicker
	handingOff bool
	// seq tags the directory and handoff results that belong to this mode.
	seq int
}

func newPickingProjectMode(seq, index int, s registry.ServerRecord, sess remote.Session) *PickingProjectMode {
	return &PickingProjectMode{seq: seq, index: index, server: s, session: sess, picker: newPathPicker()}
}

func (p *PickingProjectMode) Query() string         { return p.picker.input.Value() }
func (p *PickingProjectMode) HandingOff() bool      { return p.handingOff }
func (p *PickingProjectMode) Suggestions() []string { return p.picker.matches }

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
