// Package remote contains the SSH connection layer for remote-projects: command line parsing,
// the session client, interactive prompt relay, the session pool and remote directory listing.
package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// DefaultSSHPort is used when neither the command line nor the registry specifies a port.
const DefaultSSHPort = 22

// ConnectionOptions describes how to reach a remote host. It is produced by ParseCommandLine
// and by registry.ServerRecord.Options.
type ConnectionOptions struct {
	Host     string
	Port     uint16 // 0 = unset
	Username string // "" = unset
	Args     []string
}

// ParseError is returned when a connection command line cannot be parsed.
// No partial options are ever returned alongside it.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %q: %s", e.Input, e.Reason)
}

// Flags that take no value and are passed through to ssh verbatim.
var passthroughFlags = map[string]struct{}{
	"-4": {}, "-6": {}, "-A": {}, "-a": {}, "-C": {}, "-K": {},
	"-k": {}, "-X": {}, "-x": {}, "-Y": {}, "-y": {},
}

// Options that take a value (either attached, "-ifile", or as the next token).
var passthroughValueFlags = []string{
	"-B", "-b", "-c", "-D", "-I", "-i", "-J", "-L", "-m", "-o", "-P", "-R", "-w",
}

// ParseCommandLine parses a shell-style ssh invocation:
//
//	ssh [user@]host[:port] [-p port] [-l user] [options...]
//
// The leading "ssh" is optional. Supported options are passed through verbatim in Args.
// Options ssh would treat as modes (-N, -f, -W, ...) and remote commands are rejected.
func ParseCommandLine(input string) (ConnectionOptions, error) {
	raw := input
	input = strings.TrimSpace(input)
	fail := func(format string, a ...any) (ConnectionOptions, error) {
		return ConnectionOptions{}, &ParseError{Input: raw, Reason: fmt.Sprintf(format, a...)}
	}
	if input == "" {
		return fail("empty input")
	}

	tokens, err := shlex.Split(input)
	if err != nil {
		return fail("%v", err)
	}
	if len(tokens) > 0 && tokens[0] == "ssh" {
		tokens = tokens[1:]
	}

	var (
		opts    ConnectionOptions
		hostSet bool
	)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if _, ok := passthroughFlags[tok]; ok {
			opts.Args = append(opts.Args, tok)
			continue
		}

		switch {
		case tok == "-p":
			if i+1 >= len(tokens) {
				return fail("option -p requires a port")
			}
			i++
			p, err := parsePort(tokens[i])
			if err != nil {
				return fail("%v", err)
			}
			opts.Port = p
			continue
		case strings.HasPrefix(tok, "-p"):
			p, err := parsePort(tok[2:])
			if err != nil {
				return fail("%v", err)
			}
			opts.Port = p
			continue
		case tok == "-l":
			if i+1 >= len(tokens) {
				return fail("option -l requires a user name")
			}
			i++
			opts.Username = tokens[i]
			continue
		case strings.HasPrefix(tok, "-l"):
			opts.Username = tok[2:]
			continue
		}

		if flag, attached, ok := matchValueFlag(tok); ok {
			if attached {
				opts.Args = append(opts.Args, tok)
				continue
			}
			if i+1 >= len(tokens) {
				return fail("option %s requires an argument", flag)
			}
			opts.Args = append(opts.Args, tok, tokens[i+1])
			i++
			continue
		}

		if strings.HasPrefix(tok, "-") {
			return fail("unsupported argument: %q", tok)
		}
		if hostSet {
			return fail("unexpected argument %q after host", tok)
		}

		dest := tok
		if at := strings.LastIndexByte(dest, '@'); at >= 0 {
			opts.Username = dest[:at]
			dest = dest[at+1:]
		}
		host, port, err := splitHostPort(dest)
		if err != nil {
			return fail("%v", err)
		}
		if port != 0 {
			opts.Port = port
		}
		opts.Host = host
		hostSet = true
	}

	if !hostSet || strings.TrimSpace(opts.Host) == "" {
		return fail("missing hostname")
	}
	return opts, nil
}

func matchValueFlag(tok string) (flag string, attached bool, ok bool) {
	for _, f := range passthroughValueFlags {
		if tok == f {
			return f, false, true
		}
		if strings.HasPrefix(tok, f) {
			return f, true, true
		}
	}
	return "", false, false
}

func parsePort(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// splitHostPort accepts host, host:port, [v6] and [v6]:port. A bare IPv6 address is
// returned as the host unchanged.
func splitHostPort(s string) (string, uint16, error) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated [ in %q", s)
		}
		host := s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("unexpected %q after ]", rest)
		}
		p, err := parsePort(rest[1:])
		return host, p, err
	}
	if strings.Count(s, ":") == 1 {
		i := strings.IndexByte(s, ':')
		p, err := parsePort(s[i+1:])
		return s[:i], p, err
	}
	return s, 0, nil
}

// EffectivePort returns Port, or DefaultSSHPort when unset.
func (o ConnectionOptions) EffectivePort() uint16 {
	if o.Port == 0 {
		return DefaultSSHPort
	}
	return o.Port
}

// Address returns the host:port pair to dial.
func (o ConnectionOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(int(o.EffectivePort())))
}

// ConnectionString renders [user@]host[:port], the form shown in the server list.
func (o ConnectionOptions) ConnectionString() string {
	host := o.Host
	if o.Port != 0 && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Username != "" {
		host = o.Username + "@" + host
	}
	if o.Port != 0 {
		host += ":" + strconv.Itoa(int(o.Port))
	}
	return host
}

// CommandLine renders the options back into an ssh invocation that ParseCommandLine accepts.
func (o ConnectionOptions) CommandLine() string {
	parts := []string{"ssh"}
	dest := o.Host
	if o.Username != "" {
		dest = o.Username + "@" + dest
	}
	parts = append(parts, ShellQuoteIfNeeded(dest))
	if o.Port != 0 {
		parts = append(parts, "-p", strconv.Itoa(int(o.Port)))
	}
	for _, a := range o.Args {
		parts = append(parts, ShellQuoteIfNeeded(a))
	}
	return strings.Join(parts, " ")
}

// IdentityFile returns the value of the last -i option in Args, if any.
func (o ConnectionOptions) IdentityFile() string {
	id := ""
	for i := 0; i < len(o.Args); i++ {
		a := o.Args[i]
		switch {
		case a == "-i" && i+1 < len(o.Args):
			id = o.Args[i+1]
			i++
		case strings.HasPrefix(a, "-i") && len(a) > 2:
			id = a[2:]
		}
	}
	return id
}

// Clone returns a copy that shares no slices with o.
func (o ConnectionOptions) Clone() ConnectionOptions {
	o.Args = append([]string(nil), o.Args...)
	return o
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ShellQuoteIfNeeded quotes s only when it contains characters a shell would interpret.
func ShellQuoteIfNeeded(s string) string {
	if s == "" {
		return "''"
	}
	for _, r := range s {
		if isShellSpecial(r) {
			return ShellQuote(s)
		}
	}
	return s
}

func isShellSpecial(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\'', '"', '\\', '$', '`', '!', '*', '?', '[', ']', '(', ')', '{', '}',
		'<', '>', '|', '&', ';', '#', '~':
		return true
	}
	return false
}
