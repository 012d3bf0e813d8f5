// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"xec/target"
	"xec/xecerr"
)

// fakeDialer/testServer bring up an in-process SSH server so the pool's
// acquire/release/reap logic can be exercised without real network access.
type fakeDialer struct{ addr string }

func (d fakeDialer) Dial(ctx context.Context, p target.SSHParams) (*ssh.Client, error) {
	conn, err := net.Dial("tcp", d.addr)
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            "test",
		Auth:            []ssh.AuthMethod{ssh.Password("test")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, d.addr, clientCfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func startTestSSHServer(t *testing.T) string {
	t.Helper()
	signer := newTestSigner(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer sc.Close()
				go ssh.DiscardRequests(reqs)
				for newCh := range chans {
					newCh.Reject(ssh.UnknownChannelType, "no channels in this test server")
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestPool_AcquireRelease(t *testing.T) {
	addr := startTestSSHServer(t)
	pool := New(Options{
		MaxConnections:     2,
		IdleTimeout:        time.Hour,
		AcquisitionTimeout: time.Second,
		ReapInterval:       time.Hour,
	}, fakeDialer{addr: addr})
	defer pool.Close()

	params := target.SSHParams{Host: "127.0.0.1", Port: parsePort(addr), User: "test"}

	conn, err := pool.Acquire(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, conn)

	pool.Release(conn)

	conn2, err := pool.Acquire(context.Background(), params)
	require.NoError(t, err)
	require.Same(t, conn, conn2)
}

func TestPool_ExhaustedReturnsPoolExhaustedError(t *testing.T) {
	addr := startTestSSHServer(t)
	pool := New(Options{
		MaxConnections:     1,
		IdleTimeout:        time.Hour,
		AcquisitionTimeout: 200 * time.Millisecond,
		ReapInterval:       time.Hour,
	}, fakeDialer{addr: addr})
	defer pool.Close()

	params := target.SSHParams{Host: "127.0.0.1", Port: parsePort(addr), User: "test"}

	_, err := pool.Acquire(context.Background(), params)
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background(), params)
	require.Error(t, err)
	var exhausted *xecerr.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func parsePort(addr string) int {
	_, portStr, _ := net.SplitHostPort(addr)
	var p int
	for _, c := range portStr {
		p = p*10 + int(c-'0')
	}
	return p
}
