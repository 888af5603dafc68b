// Package sftpd is the client daemon's restricted SFTP endpoint: an SSH
// listener that authenticates exactly one pinned peer key and exposes only
// open/stat/list_folder/mkdir, rooted at the configured staging directory.
package sftpd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
	"github.com/haxwithaxe/certdeploy-go/internal/metrics"
)

// acceptTick is both the TCP accept timeout and the loop interval on which
// the accept loop observes the update coordinator for a fail-fast error.
const acceptTick = 1 * time.Second

// PushObserver is the seam the accept loop notifies when an authenticated
// session closes, and polls for a fail-fast failure from the update pass
// that session may have triggered. *coordinator.Coordinator satisfies it.
type PushObserver interface {
	HandlePush(ctx context.Context) error
	Err() error
}

// Server is the client's restricted SFTP endpoint.
type Server struct {
	cfg        config.SFTPDConfig
	root       string
	coordinator PushObserver
	logger     hclog.Logger
	sshConfig  *ssh.ServerConfig

	mu   sync.Mutex
	addr net.Addr
}

// New builds a Server bound to staging (the restricted filesystem root).
func New(cfg config.SFTPDConfig, staging string, coord PushObserver, logger hclog.Logger) (*Server, error) {
	keyData, err := os.ReadFile(cfg.PrivkeyFilename)
	if err != nil {
		return nil, fmt.Errorf("reading sftpd host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing sftpd host key: %w", err)
	}

	s := &Server{cfg: cfg, root: staging, coordinator: coord, logger: logger}

	sshConfig := &ssh.ServerConfig{
		PublicKeyCallback: s.authenticate,
	}
	sshConfig.AddHostKey(signer)
	s.sshConfig = sshConfig

	return s, nil
}

func (s *Server) authenticate(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if conn.User() != s.cfg.Username {
		return nil, fmt.Errorf("unknown user %q", conn.User())
	}
	if s.cfg.ServerPubkey == nil || !publicKeysEqual(key, s.cfg.ServerPubkey) {
		return nil, fmt.Errorf("unauthorized key for user %q", conn.User())
	}
	return &ssh.Permissions{}, nil
}

func publicKeysEqual(a, b ssh.PublicKey) bool {
	return a.Type() == b.Type() && string(a.Marshal()) == string(b.Marshal())
}

// Addr returns the listener's bound address. It's only valid once
// ListenAndServe has started accepting; callers in tests typically poll it
// or synchronize via a readiness channel of their own.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe accepts connections until ctx is canceled or a fail-fast
// update-pass error is observed, whichever comes first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.ListenAddress, fmt.Sprint(s.cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.logger.Info("sftp endpoint listening", "address", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	tcpLn, hasDeadline := ln.(*net.TCPListener)
	for {
		if hasDeadline {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTick))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if fatal := s.coordinator.Err(); fatal != nil {
					return fatal
				}
				continue
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.logger.Warn("ssh handshake failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	metrics.IncrCounter(metrics.SFTPSessions)
	s.logger.Info("sftp session authenticated", "remote", conn.RemoteAddr())

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.logger.Error("failed to accept channel", "error", err)
			continue
		}
		go s.serveSession(channel, requests)
	}

	sshConn.Wait()
	s.logger.Info("sftp session closed", "remote", conn.RemoteAddr())
	if err := s.coordinator.HandlePush(ctx); err != nil {
		s.logger.Error("failed to handle push after session close", "error", err)
	}
}

func (s *Server) serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		ok := req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
		if req.WantReply {
			req.Reply(ok, nil)
		}
		if !ok {
			continue
		}
		handlers := newRestrictedHandlers(s.root)
		server := sftp.NewRequestServer(channel, handlers)
		if err := server.Serve(); err != nil {
			s.logger.Debug("sftp subsystem ended", "error", err)
		}
		server.Close()
		return
	}
}

// subsystemName decodes the SSH "subsystem" channel request payload, a
// single length-prefixed string per RFC 4254 §6.5.
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}
