package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
	"remote-projects/pkg/servers"
	"remote-projects/pkg/workspace"
)

var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func (a *app) runSubcommand(ctx context.Context, args []string) error {
	switch args[0] {
	case "list", "ls":
		return a.cmdList()
	case "add":
		return a.cmdAdd(args[1:])
	case "remove", "rm":
		return a.cmdRemove(args[1:])
	case "nickname":
		return a.cmdNickname(args[1:])
	case "project":
		return a.cmdProject(args[1:])
	case "connect":
		return a.cmdConnect(ctx, args[1:])
	case "open":
		return a.cmdOpen(ctx, args[1:])
	default:
		return usageErr("unknown command %q (see --help)", args[0])
	}
}

func (a *app) cmdList() error {
	reg := a.store.Snapshot()
	if err := a.store.Err(); err != nil {
		return err
	}
	if len(reg.Servers) == 0 {
		fmt.Fprintf(a.out, "no servers in %s\n", a.store.Path())
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tCONNECTION\tUPLOAD\tPROJECTS")
	for i, s := range reg.Servers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i, s.DisplayName(), s.Options().CommandLine(), s.UploadBinaryPolicy, len(s.Projects))
		for _, p := range s.Projects {
			fmt.Fprintf(tw, "\t\t  %s\t\t\n", p)
		}
	}
	return tw.Flush()
}

func (a *app) cmdAdd(args []string) error {
	if len(args) == 0 {
		return usageErr("remote-projects add <ssh command...>")
	}
	opts, err := remote.ParseCommandLine(strings.Join(quoteArgs(args), " "))
	if err != nil {
		return err
	}
	policy := registry.UploadPolicy(strings.ToLower(strings.TrimSpace(a.cfg.DefaultUploadPolicy)))
	var index int
	err = a.store.Update(func(r *registry.Registry) {
		index = r.AddServer(opts)
		if policy != registry.UploadUnset {
			r.SetUploadPolicy(index, policy)
		}
	})
	if err != nil {
		return err
	}
	a.logger.Info("added server", "host", opts.ConnectionString(), "index", index)
	fmt.Fprintf(a.out, "added %s as server %d\n", opts.ConnectionString(), index)
	return nil
}

// quoteArgs re-quotes argv that the shell already split so ParseCommandLine sees the same words.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = remote.ShellQuoteIfNeeded(a)
	}
	return out
}

func (a *app) cmdRemove(args []string) error {
	if len(args) != 1 {
		return usageErr("remote-projects remove <index>")
	}
	i, s, err := a.server(args[0])
	if err != nil {
		return err
	}
	if err := a.store.Update(func(r *registry.Registry) { r.RemoveServer(i) }); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %s\n", s.DisplayName())
	return nil
}

func (a *app) cmdNickname(args []string) error {
	if len(args) < 1 {
		return usageErr("remote-projects nickname <index> [name]")
	}
	i, _, err := a.server(args[0])
	if err != nil {
		return err
	}
	name := strings.Join(args[1:], " ")
	return a.store.Update(func(r *registry.Registry) { r.SetNickname(i, name) })
}

func (a *app) cmdProject(args []string) error {
	if len(args) < 3 || (args[0] != "add" && args[0] != "remove") {
		return usageErr("remote-projects project <add|remove> <index> <path...>")
	}
	i, _, err := a.server(args[1])
	if err != nil {
		return err
	}
	project := registry.NewProject(args[2:]...)
	return a.store.Update(func(r *registry.Registry) {
		if args[0] == "add" {
			r.AddProject(i, project)
		} else {
			r.RemoveProject(i, project)
		}
	})
}

func (a *app) cmdConnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("remote-projects connect <index>")
	}
	_, s, err := a.server(args[0])
	if err != nil {
		return err
	}
	sess, err := a.connector.Connect(ctx, s.Options(), a.prompter)
	if err != nil {
		return err
	}
	defer sess.Close()
	out, err := sess.Run(ctx, "uname -a")
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "connected to %s: %s", s.ConnectionString(), out)
	return nil
}

func (a *app) cmdOpen(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageErr("remote-projects open <index> <path...>")
	}
	i, s, err := a.server(args[0])
	if err != nil {
		return err
	}
	opener, err := workspace.New(a.cfg.Opener, a.logger)
	if err != nil {
		return err
	}
	sess, err := a.connector.Connect(ctx, s.Options(), a.prompter)
	if err != nil {
		return err
	}
	defer sess.Close()

	h := &servers.Handoff{Store: a.store, Opener: opener, Logger: a.logger}
	if err := h.Resolve(ctx, i, s, sess, args[1:]); err != nil {
		return err
	}
	if eo, ok := opener.(*workspace.ExecOpener); ok {
		return eo.RunPending()
	}
	return nil
}

// server resolves an index argument against the current registry.
func (a *app) server(arg string) (int, registry.ServerRecord, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, registry.ServerRecord{}, usageErr("invalid index %q", arg)
	}
	s, ok := a.store.Snapshot().Server(i)
	if !ok {
		return 0, registry.ServerRecord{}, fmt.Errorf("no server at index %d", i)
	}
	return i, s, nil
}

// terminalPrompter answers connection prompts on the controlling terminal.
type terminalPrompter struct {
	in  *os.File
	out io.Writer

	// reader is shared by every prompt; piped input may hold several answers.
	reader *bufio.Reader
}

func newTerminalPrompter(in *os.File, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *terminalPrompter) Prompt(ctx context.Context, pr remote.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", remote.ErrPromptCancelled
	}
	msg := strings.TrimRight(pr.Message, " ")
	if !strings.HasSuffix(msg, ":") && !strings.HasSuffix(msg, "?") {
		msg += ":"
	}
	fmt.Fprint(p.out, msg+" ")

	fd := int(p.in.Fd())
	if !pr.Echo && term.IsTerminal(fd) && p.reader.Buffered() == 0 {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if errors.Is(err, io.EOF) && line == "" {
		return "", remote.ErrPromptCancelled
	}
	return strings.TrimRight(line, "\r\n"), nil
}
