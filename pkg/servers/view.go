package servers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	var keys help.KeyMap

	switch md := m.mode.(type) {
	case *DefaultMode:
		m.viewDefault(&b, md)
		keys = listHelp{m.keys}
	case *CreatingServerMode:
		m.viewCreating(&b, md)
		keys = inputHelp{m.keys}
	case *ViewingOptionsMode:
		m.viewOptions(&b, md)
		keys = listHelp{m.keys}
	case *EditingNicknameMode:
		b.WriteString(m.theme.Header.Render("Nickname for "+md.server.ConnectionString()) + "\n\n")
		b.WriteString(md.input.View() + "\n")
		b.WriteString(m.theme.Dim.Render("Leave empty to show the address instead.") + "\n")
		keys = inputHelp{m.keys}
	case *ConnectingMode:
		b.WriteString(m.theme.Header.Render("Connecting") + "\n\n")
		b.WriteString(m.spinner.View() + " " + md.server.DisplayName() + "\n")
		m.viewPrompt(&b, md.attempt)
		keys = inputHelp{m.keys}
	case *PickingProjectMode:
		m.viewPicker(&b, md)
		keys = pickerHelp{m.keys}
	}

	if m.status != "" {
		style := m.theme.Success
		if m.statusErr {
			style = m.theme.Error
		}
		b.WriteString("\n" + style.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.theme.Help.Render(m.help.View(keys)))

	frame := m.theme.Frame
	if m.width > 4 {
		frame = frame.MaxWidth(m.width)
	}
	return frame.Render(b.String())
}

func (m Model) viewDefault(b *strings.Builder, d *DefaultMode) {
	b.WriteString(m.theme.Header.Render("Remote Projects") + "\n\n")
	last := -2
	for i, e := range d.entries {
		if e.server != last && e.server >= 0 {
			s := d.servers[e.server]
			b.WriteString("\n" + m.theme.Accent.Render(s.DisplayName()))
			if s.Nickname != "" {
				b.WriteString(" " + m.theme.Dim.Render(s.ConnectionString()))
			}
			b.WriteString("\n")
		}
		last = e.server
		b.WriteString(m.theme.SelectedPrefix(i == d.cursor) + m.entryLabel(e, i == d.cursor) + "\n")
	}
}

func (m Model) entryLabel(e entry, selected bool) string {
	var label string
	switch e.kind {
	case entryNewServer:
		label = "+ Connect New Server"
	case entryProject:
		return m.theme.Project.Render(e.project.String())
	case entryOpenFolder:
		label = "Open folder"
	case entryServerOptions:
		label = "View server options"
	}
	if selected {
		return m.theme.Selected.Render(label)
	}
	return m.theme.Dim.Render(label)
}

func (m Model) viewCreating(b *strings.Builder, c *CreatingServerMode) {
	b.WriteString(m.theme.Header.Render("Connect New Server") + "\n\n")
	b.WriteString("Enter the command you use to ssh to this server:\n")
	b.WriteString(c.input.View() + "\n")
	if c.err != "" {
		b.WriteString(m.theme.Error.Render(c.err) + "\n")
	}
	if c.attempt != nil {
		b.WriteString("\n" + m.spinner.View() + " Connecting to " + c.attempt.opts.ConnectionString() + "\n")
		m.viewPrompt(b, c.attempt)
	}
}

func (m Model) viewPrompt(b *strings.Builder, a *attempt) {
	p, ok := a.pending()
	if !ok {
		return
	}
	msg := strings.TrimSpace(p.Message)
	if p.Kind == remote.PromptHostKey {
		b.WriteString("\n" + m.theme.Warn.Render(msg) + "\n")
	} else {
		b.WriteString("\n" + msg + "\n")
	}
	b.WriteString(a.answer.View() + "\n")
}

func (m Model) viewOptions(b *strings.Builder, v *ViewingOptionsMode) {
	b.WriteString(m.theme.Header.Render(v.server.DisplayName()) + "\n")
	b.WriteString(m.theme.Dim.Render(fmt.Sprintf("%s  (%s)", v.server.ConnectionString(), projectCount(v.server))) + "\n\n")
	if v.confirm != nil {
		b.WriteString(m.theme.Warn.Render(v.confirm.message) + "\n")
		for i, o := range v.confirm.options {
			b.WriteString(m.theme.SelectedPrefix(i == v.confirm.cursor) + o + "\n")
		}
		return
	}
	for i, o := range serverOptions {
		label := o.label(v.server)
		if i == v.cursor {
			label = m.theme.Selected.Render(label)
		}
		b.WriteString(m.theme.SelectedPrefix(i == v.cursor) + label + "\n")
	}
}

func (m Model) viewPicker(b *strings.Builder, p *PickingProjectMode) {
	b.WriteString(m.theme.Header.Render("Open folder on "+p.server.DisplayName()) + "\n\n")
	if p.handingOff {
		b.WriteString(m.spinner.View() + " Opening " + p.picker.input.Value() + "\n")
		return
	}
	b.WriteString(p.picker.input.View() + "\n")
	if p.picker.loading {
		b.WriteString(m.spinner.View() + m.theme.Dim.Render(" listing "+p.picker.listedDir) + "\n")
	}
	for i, d := range p.picker.matches {
		b.WriteString(m.theme.SelectedPrefix(i == p.picker.cursor) + m.theme.Project.Render(d+"/") + "\n")
	}
	if p.picker.err != "" {
		b.WriteString(m.theme.Error.Render(p.picker.err) + "\n")
	}
}

func projectCount(s registry.ServerRecord) string {
	if len(s.Projects) == 1 {
		return "1 project"
	}
	return fmt.Sprintf("%d projects", len(s.Projects))
}
