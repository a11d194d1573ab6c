package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/yourusername/wordpress-backup/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a secret is needed but stdin is not a TTY.
var ErrNoTerminal = errors.New("no terminal available for interactive authentication")

// Prompter asks the operator for a secret
type Prompter interface {
	Password(prompt string) (string, error)
}

var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// TerminalPrompter reads secrets from a terminal without echo
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Password implements Prompter
func (p *TerminalPrompter) Password(prompt string) (string, error) {
	fd := int(p.In.Fd())
	if !isTerminal(fd) {
		return "", ErrNoTerminal
	}

	fmt.Fprint(p.Out, prompt)
	secret, err := readPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

// interactiveAuthMethods returns the auth chain used when no key was
// supplied: ssh-agent first, then a configured password, then
// keyboard-interactive and password prompts. The ssh client tries each method
// name once, so a configured password replaces the password prompt.
// release closes the agent socket and must be called after the handshake.
func interactiveAuthMethods(config *ClientConfig) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	release := func() {}

	if config.UseAgent {
		if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
			conn, err := net.Dial("unix", socket)
			if err != nil {
				logging.L().Debug("ssh-agent unavailable", "error", err)
			} else {
				release = func() { conn.Close() }
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if config.Password != "" {
		methods = append(methods, ssh.Password(config.Password))
	}

	if config.Prompter != nil {
		prompter := config.Prompter
		methods = append(methods,
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i, question := range questions {
					answer, err := prompter.Password(question)
					if err != nil {
						return nil, err
					}
					answers[i] = answer
				}
				return answers, nil
			}),
			ssh.PasswordCallback(func() (string, error) {
				return prompter.Password(fmt.Sprintf("%s@%s's password: ", config.Username, config.Host))
			}),
		)
	}

	return methods, release
}
