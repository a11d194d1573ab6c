// Package sshtest provides an in-process SSH server with exec and SFTP
// support for tests.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ExecHandler runs a command and returns its exit status
type ExecHandler func(command string, stdout, stderr io.Writer) int

// Options configures a Server
type Options struct {
	// Password accepted for password auth. Empty disables it.
	Password string
	// AuthorizedKey accepted for public key auth. Nil disables it.
	AuthorizedKey ssh.PublicKey
	// Exec handles "exec" requests. Nil makes every command exit 0.
	Exec ExecHandler
	// DisableSFTP rejects the sftp subsystem.
	DisableSFTP bool
}

// Server is a loopback SSH server
type Server struct {
	Addr    string
	HostKey ssh.PublicKey

	opts     Options
	config   *ssh.ServerConfig
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}

	s := &Server{opts: opts, HostKey: hostSigner.PublicKey()}
	s.config = &ssh.ServerConfig{}
	if opts.Password != "" {
		s.config.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == opts.Password {
				return nil, nil
			}
			return nil, errDenied
		}
	}
	if opts.AuthorizedKey != nil {
		authorized := opts.AuthorizedKey.Marshal()
		s.config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized) {
				return nil, nil
			}
			return nil, errDenied
		}
	}
	s.config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = listener
	s.Addr = listener.Addr().String()

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// Commands returns every command received so far
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops accepting and drops open connections
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			go func(command string) {
				status := 0
				if s.opts.Exec != nil {
					status = s.opts.Exec(command, channel, channel.Stderr())
				}
				channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
				channel.Close()
			}(payload.Command)

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" || s.opts.DisableSFTP {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(channel)
				if err == nil {
					server.Serve()
					server.Close()
				}
				channel.Close()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// GenerateKey returns a PEM encoded ed25519 private key and its public half
func GenerateKey(t testing.TB) ([]byte, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return pem.EncodeToMemory(block), signer.PublicKey()
}

var errDenied = errors.New("permission denied")
