package workspace

import (
	"path"
	"strconv"
	"strings"

	"remote-projects/pkg/remote"
)

// SSHArgv builds the OpenSSH invocation for opts:
//
//	ssh [-t] [-p port] [args...] [user@]host [remoteCommand]
//
// -t is added when a remote command is given so the remote shell gets a TTY.
func SSHArgv(opts remote.ConnectionOptions, remoteCommand string) []string {
	argv := []string{"ssh"}
	if remoteCommand != "" {
		argv = append(argv, "-t")
	}
	if opts.Port != 0 {
		argv = append(argv, "-p", strconv.Itoa(int(opts.Port)))
	}
	argv = append(argv, opts.Args...)

	dest := opts.Host
	if opts.Username != "" {
		dest = opts.Username + "@" + dest
	}
	argv = append(argv, dest)
	if remoteCommand != "" {
		argv = append(argv, remoteCommand)
	}
	return argv
}

// ShellInDir is the remote command that starts a login shell in dir.
func ShellInDir(dir string) string {
	return "cd " + remote.ShellQuote(dir) + ` && exec "${SHELL:-/bin/sh}" -l`
}

// QuoteArgv renders argv as a single sh command line.
func QuoteArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = remote.ShellQuoteIfNeeded(a)
	}
	return strings.Join(parts, " ")
}

// WindowName is "<base of first path>@<host>", used for tmux window titles.
func WindowName(opts remote.ConnectionOptions, paths []string) string {
	name := opts.Host
	if len(paths) > 0 {
		base := path.Base(paths[0])
		if base == "/" || base == "." {
			base = paths[0]
		}
		name = base + "@" + opts.Host
	}
	return name
}
