package servers

import (
	"path"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
)

const maxSuggestions = 8

type defaultQueryMsg struct {
	seq   int
	query string
	err   error
}

type dirListingMsg struct {
	mode int
	seq  int
	dir  string
	dirs []string
	err  error
}

// pathPicker is a text field for an absolute remote path with subdirectory suggestions for
// the directory being typed.
type pathPicker struct {
	input     textinput.Model
	listedDir string
	dirs      []string
	matches   []string
	cursor    int
	loading   bool
	err       string
	seq       int
}

func newPathPicker() pathPicker {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "/home/user/project"
	in.CharLimit = 1024
	in.Focus()
	return pathPicker{input: in, cursor: -1, loading: true}
}

// setQuery replaces the typed path and reports the directory that needs listing, if it
// differs from the one already listed.
func (p *pathPicker) setQuery(q string) (string, bool) {
	p.input.SetValue(q)
	p.input.CursorEnd()
	return p.afterEdit()
}

func (p *pathPicker) afterEdit() (string, bool) {
	p.cursor = -1
	dir := p.dirOfQuery()
	if dir == "" {
		p.loading = false
	}
	if dir == "" || dir == p.listedDir {
		p.refilter()
		return "", false
	}
	p.listedDir = dir
	p.dirs = nil
	p.matches = nil
	p.loading = true
	p.seq++
	return dir, true
}

// dirOfQuery is the directory part of the query: everything up to the last slash.
func (p *pathPicker) dirOfQuery() string {
	q := p.input.Value()
	if !strings.HasPrefix(q, "/") {
		return ""
	}
	i := strings.LastIndex(q, "/")
	if i == 0 {
		return "/"
	}
	return q[:i]
}

func (p *pathPicker) setListing(msg dirListingMsg) {
	if msg.seq != p.seq || msg.dir != p.listedDir {
		return
	}
	p.loading = false
	p.err = ""
	if msg.err != nil {
		p.err = msg.err.Error()
	}
	p.dirs = msg.dirs
	p.refilter()
}

func (p *pathPicker) refilter() {
	q := p.input.Value()
	base := ""
	if i := strings.LastIndex(q, "/"); i >= 0 {
		base = q[i+1:]
	}
	p.matches = p.matches[:0]
	for _, d := range p.dirs {
		if strings.HasPrefix(path.Base(d), base) {
			p.matches = append(p.matches, d)
			if len(p.matches) == maxSuggestions {
				break
			}
		}
	}
	if p.cursor >= len(p.matches) {
		p.cursor = len(p.matches) - 1
	}
}

func (p *pathPicker) move(delta int) {
	if len(p.matches) == 0 {
		p.cursor = -1
		return
	}
	p.cursor = clamp(p.cursor+delta, -1, len(p.matches)-1)
}

// complete fills in the highlighted suggestion, or the only one, and descends into it.
func (p *pathPicker) complete() (string, bool) {
	target := ""
	switch {
	case p.cursor >= 0 && p.cursor < len(p.matches):
		target = p.matches[p.cursor]
	case len(p.matches) == 1:
		target = p.matches[0]
	default:
		return "", false
	}
	return p.setQuery(strings.TrimSuffix(target, "/") + "/")
}

// selection returns the chosen absolute path.
func (p *pathPicker) selection() (string, bool) {
	v := strings.TrimSpace(p.input.Value())
	if p.cursor >= 0 && p.cursor < len(p.matches) {
		v = p.matches[p.cursor]
	}
	if !path.IsAbs(v) {
		return "", false
	}
	return path.Clean(v), true
}
