package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// Session is an authenticated connection to a remote host.
type Session interface {
	ID() string
	Options() ConnectionOptions
	// Run executes command on the remote host and returns its stdout.
	Run(ctx context.Context, command string) ([]byte, error)
	// Secret returns the password answered while authenticating, if any.
	Secret() string
	Close() error
}

// Connector establishes sessions.
type Connector interface {
	Connect(ctx context.Context, opts ConnectionOptions, sink PromptSink) (Session, error)
}

// SSHConnector is the Connector backed by golang.org/x/crypto/ssh.
type SSHConnector struct {
	Timeout    time.Duration
	KnownHosts []string
	Logger     *log.Logger
}

func (c *SSHConnector) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard)
	}
	return c.Logger
}

// Connect dials opts.Address and authenticates. Timeout bounds the dial and the wait for the
// server's version banner and host key. Prompts are relayed to sink one at a time.
// Cancelling ctx aborts the dial or the handshake and yields a UserCancelled ConnectError.
func (c *SSHConnector) Connect(ctx context.Context, opts ConnectionOptions, sink PromptSink) (Session, error) {
	logger := c.logger().With("host", opts.ConnectionString())
	user := opts.Username
	if user == "" {
		user = currentUsername()
	}
	knownHosts := c.KnownHosts
	if len(knownHosts) == 0 {
		knownHosts = KnownHostsPaths()
	}

	verifier, err := newHostKeyVerifier(ctx, knownHosts, sink, logger)
	if err != nil {
		logger.Warn("known_hosts unusable", "err", err)
		return nil, &ConnectError{Kind: FailureOther, Host: opts.Host, Err: err}
	}
	capture := &secretCapture{}
	auth, closeAgent := authMethods(ctx, opts, user, sink, capture)
	defer closeAgent()

	addr := opts.Address()
	logger.Debug("dialing", "addr", addr, "user", user)
	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		ce := classifyConnectErr(ctx, opts.Host, err)
		logger.Info("dial failed", "kind", ce.Kind, "err", err)
		return nil, ce
	}

	// Prompts during the handshake are bounded by ctx only. Until the host key arrives the
	// server has to answer within Timeout, so a silent peer cannot stall the attempt.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	cfg := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			_ = conn.SetDeadline(time.Time{})
			return verifier.callback(hostname, remote, key)
		},
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		ce := classifyConnectErr(ctx, opts.Host, err)
		logger.Info("handshake failed", "kind", ce.Kind, "err", err)
		return nil, ce
	}
	client := ssh.NewClient(cc, chans, reqs)
	if !stop() {
		_ = client.Close()
		return nil, &ConnectError{Kind: FailureUserCancelled, Host: opts.Host, Err: context.Canceled}
	}

	verifier.persistAccepted()
	logger.Info("connected", "server_version", string(cc.ServerVersion()))
	return &sshSession{
		id:     uuid.NewString(),
		opts:   opts.Clone(),
		client: client,
		secret: capture.get(),
	}, nil
}

type sshSession struct {
	id        string
	opts      ConnectionOptions
	client    *ssh.Client
	secret    string
	closeOnce sync.Once
	closeErr  error
}

func (s *sshSession) ID() string                 { return s.id }
func (s *sshSession) Options() ConnectionOptions { return s.opts.Clone() }
func (s *sshSession) Secret() string             { return s.secret }

func (s *sshSession) Run(ctx context.Context, command string) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				msg := strings.TrimSpace(stderr.String())
				if msg == "" {
					msg = fmt.Sprintf("exit status %d", exitErr.ExitStatus())
				}
				return stdout.Bytes(), fmt.Errorf("remote command failed: %s", msg)
			}
			return stdout.Bytes(), fmt.Errorf("remote command: %w", err)
		}
		return stdout.Bytes(), nil
	}
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.client.Close() })
	return s.closeErr
}
