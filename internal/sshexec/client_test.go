package sshexec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal exec-only SSH server. Commands are answered from
// a map; "sleep" blocks until the connection closes.
type testServer struct {
	addr     string
	listener net.Listener
	replies  map[string]testReply
	ptySeen  chan bool
}

type testReply struct {
	stdout string
	stderr string
	status uint32
}

func writeKey(t *testing.T, dir string, priv ed25519.PrivateKey) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(dir, "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func startServer(t *testing.T, authorized ssh.PublicKey, replies map[string]testReply) *testServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	cfg.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{addr: l.Addr().String(), listener: l, replies: replies, ptySeen: make(chan bool, 8)}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go s.session(ch, requests)
	}
}

func (s *testServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	pty := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			pty = true
			_ = req.Reply(true, nil)
		case "exec":
			cmd := string(req.Payload[4:])
			_ = req.Reply(true, nil)
			s.ptySeen <- pty
			if cmd == "sleep" {
				for range requests {
				}
				return
			}
			reply, ok := s.replies[cmd]
			if !ok {
				reply = testReply{stderr: "not found", status: 127}
			}
			_, _ = ch.Write([]byte(reply.stdout))
			_, _ = ch.Stderr().Write([]byte(reply.stderr))
			status := make([]byte, 4)
			binary.BigEndian.PutUint32(status, reply.status)
			_, _ = ch.SendRequest("exit-status", false, status)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func newPair(t *testing.T, replies map[string]testReply) (*Client, *testServer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	srv := startServer(t, sshPub, replies)
	_, port, _ := net.SplitHostPort(srv.addr)
	p, _ := strconv.Atoi(port)
	c := NewClient("cloud", writeKey(t, t.TempDir(), priv), p, 5*time.Second)
	return c, srv
}

func TestClientRun(t *testing.T) {
	c, srv := newPair(t, map[string]testReply{
		"uname -r": {stdout: "4.19.x86_64\n"},
		"false":    {stderr: "nope\n", status: 1},
	})

	res, err := c.Run(context.Background(), "127.0.0.1", "uname -r")
	require.NoError(t, err)
	assert.Equal(t, "4.19.x86_64\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.OK())
	assert.False(t, <-srv.ptySeen, "no pty by default")

	res, err = c.Run(context.Background(), "127.0.0.1", "false")
	require.NoError(t, err, "a non-zero exit is not a connection error")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "nope\n", res.Stderr)
}

func TestClientRunWithPTY(t *testing.T) {
	c, srv := newPair(t, map[string]testReply{"top": {stdout: "ok"}})
	c.PTY = true
	_, err := c.Run(context.Background(), "127.0.0.1", "top")
	require.NoError(t, err)
	assert.True(t, <-srv.ptySeen)
}

func TestClientRunCancelled(t *testing.T) {
	c, _ := newPair(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx, "127.0.0.1", "sleep")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientRunErrors(t *testing.T) {
	c, _ := newPair(t, nil)

	t.Run("missing key", func(t *testing.T) {
		bad := *c
		bad.KeyPath = filepath.Join(t.TempDir(), "absent")
		res, err := bad.Run(context.Background(), "127.0.0.1", "x")
		assert.ErrorIs(t, err, ErrKeyPermission)
		assert.NotEmpty(t, res.Err)
	})

	t.Run("rejected key", func(t *testing.T) {
		_, other, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		bad := *c
		bad.KeyPath = writeKey(t, t.TempDir(), other)
		_, err = bad.Run(context.Background(), "127.0.0.1", "x")
		assert.ErrorIs(t, err, ErrKeyPermission)
		assert.Contains(t, err.Error(), "chmod 600")
	})

	t.Run("unreachable", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		_, port, _ := net.SplitHostPort(l.Addr().String())
		_ = l.Close()
		bad := *c
		bad.Port, _ = strconv.Atoi(port)
		_, err = bad.Run(context.Background(), "127.0.0.1", "x")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "connection"))
	})
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("cloud", "k", 0, 0)
	assert.Equal(t, defaultPort, c.Port)
	assert.Equal(t, defaultTimeout, c.Timeout)
	assert.False(t, c.PTY)
	assert.True(t, NewClient("cloud", "k", 0, 0, WithPTY()).PTY)
}

func TestIsPermissionProblem(t *testing.T) {
	assert.True(t, IsPermissionProblem("Permission denied (publickey)"))
	assert.True(t, IsPermissionProblem("ACCESS DENIED"))
	assert.False(t, IsPermissionProblem("no such file"))
}
