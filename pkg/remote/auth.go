package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// secretCapture remembers the last password answered during authentication so a later
// interactive launch can answer the same prompt without asking again.
type secretCapture struct {
	mu     sync.Mutex
	secret string
}

func (c *secretCapture) set(s string) {
	c.mu.Lock()
	c.secret = s
	c.mu.Unlock()
}

func (c *secretCapture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secret
}

// authMethods builds the client auth chain. The returned closer releases the agent connection
// and must be called once the handshake is over.
func authMethods(ctx context.Context, opts ConnectionOptions, user string, sink PromptSink, capture *secretCapture) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closer := func() {}

	if id := opts.IdentityFile(); id != "" {
		if signer, err := loadSigner(expandHome(id)); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if m, conn := trySSHAgent(); m != nil {
		methods = append(methods, m)
		closer = func() { _ = conn.Close() }
	}

	if m := tryLoadKeysFromDisk(); m != nil {
		methods = append(methods, m)
	}

	methods = append(methods,
		ssh.PasswordCallback(func() (string, error) {
			answer, err := sink.Prompt(ctx, Prompt{
				Kind:    PromptPassword,
				Message: fmt.Sprintf("%s@%s's password:", user, opts.Host),
			})
			if err != nil {
				return "", err
			}
			capture.set(answer)
			return answer, nil
		}),
		ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i, q := range questions {
				msg := strings.TrimSpace(q)
				if instruction != "" && i == 0 {
					msg = strings.TrimSpace(instruction) + "\n" + msg
				}
				kind := PromptSecret
				if strings.Contains(strings.ToLower(q), "password") {
					kind = PromptPassword
				}
				answer, err := sink.Prompt(ctx, Prompt{Kind: kind, Message: msg, Echo: echos[i]})
				if err != nil {
					return nil, err
				}
				if kind == PromptPassword {
					capture.set(answer)
				}
				answers[i] = answer
			}
			return answers, nil
		}),
	)
	return methods, closer
}

func trySSHAgent() (ssh.AuthMethod, net.Conn) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), conn
}

// tryLoadKeysFromDisk loads unencrypted keys from ~/.ssh. Encrypted keys are left to the agent.
func tryLoadKeysFromDisk() ssh.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		if s, err := loadSigner(filepath.Join(home, ".ssh", name)); err == nil {
			signers = append(signers, s)
		}
	}
	if len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeys(signers...)
}

func loadSigner(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(b)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// currentUsername returns the current OS user name, or $USER if lookup fails.
func currentUsername() string {
	if u, err := user.Current(); err == nil && u != nil && u.Username != "" {
		return filepath.Base(u.Username)
	}
	return os.Getenv("USER")
}
