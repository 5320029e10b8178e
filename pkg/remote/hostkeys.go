package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyVerifier checks server keys against known_hosts files. Unknown keys are relayed to
// the prompt sink; accepted keys are only written after the handshake succeeds. A key that
// conflicts with any known_hosts entry is rejected without prompting.
type hostKeyVerifier struct {
	ctx      context.Context
	sink     PromptSink
	paths    []string
	known    ssh.HostKeyCallback
	accepted map[string]ssh.PublicKey
	logger   *log.Logger
}

// newHostKeyVerifier loads every existing file in paths into one callback. Missing files are
// skipped; any other read or parse failure is returned.
func newHostKeyVerifier(ctx context.Context, paths []string, sink PromptSink, logger *log.Logger) (*hostKeyVerifier, error) {
	v := &hostKeyVerifier{
		ctx:      ctx,
		sink:     sink,
		paths:    paths,
		accepted: make(map[string]ssh.PublicKey),
		logger:   logger,
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("known_hosts %s: %w", p, err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return v, nil
	}
	cb, err := knownhosts.New(existing...)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	v.known = cb
	return v, nil
}

func (v *hostKeyVerifier) callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if v.known == nil {
		return v.handleUnknown(hostname, remote, key)
	}
	err := v.known(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return v.handleUnknown(hostname, remote, key)
		}
		want := keyErr.Want[0]
		return fmt.Errorf("host key mismatch for %s: server presented %s but known_hosts expects %s (%s:%d)",
			hostname, ssh.FingerprintSHA256(key), ssh.FingerprintSHA256(want.Key), want.Filename, want.Line)
	}
	return err
}

func (v *hostKeyVerifier) handleUnknown(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if prev, ok := v.accepted[hostname]; ok && string(prev.Marshal()) == string(key.Marshal()) {
		return nil
	}

	addr := "unknown"
	if remote != nil {
		addr = remote.String()
	}
	msg := fmt.Sprintf("The authenticity of host '%s (%s)' can't be established.\n%s key fingerprint is %s.\nAre you sure you want to continue connecting (yes/no)?",
		hostname, addr, key.Type(), ssh.FingerprintSHA256(key))

	answer, err := v.sink.Prompt(v.ctx, Prompt{Kind: PromptHostKey, Message: msg, Echo: true})
	if err != nil {
		return err
	}
	if !IsAffirmative(answer) {
		return ErrHostKeyRejected
	}
	v.accepted[hostname] = key
	return nil
}

func (v *hostKeyVerifier) persistAccepted() {
	if len(v.accepted) == 0 {
		return
	}
	if len(v.paths) == 0 {
		v.logger.Warn("accepted host key but no known_hosts path is configured")
		return
	}
	for host, key := range v.accepted {
		if err := appendKnownHost(v.paths[0], host, key); err != nil {
			v.logger.Warn("could not persist host key", "host", host, "path", v.paths[0], "err", err)
			continue
		}
		v.logger.Info("host key added", "host", host, "path", v.paths[0])
	}
	v.accepted = make(map[string]ssh.PublicKey)
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
	return err
}

// KnownHostsPaths returns $SSH_KNOWN_HOSTS (path-list) or ~/.ssh/known_hosts.
func KnownHostsPaths() []string {
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		var paths []string
		for _, p := range strings.Split(env, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}
