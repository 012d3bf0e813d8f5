// SPDX-License-Identifier: MPL-2.0

package forward

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/armon/go-socks5"
	"golang.org/x/crypto/ssh"
)

// sshDialer adapts an *ssh.Client to socks5's Dialer interface, so every
// resolved SOCKS5 destination is reached through a direct-tcpip channel
// on the SSH connection rather than the local machine's network
// (spec.md §4.11 "Dynamic (SOCKS5) forward").
type sshDialer struct{ client *ssh.Client }

func (d sshDialer) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.client.Dial(network, addr)
}

// Credentials authenticates SOCKS5 username/password requests. A nil
// Credentials disables auth, leaving the listener "no-auth" only.
type Credentials interface {
	Valid(user, password string) bool
}

// OpenSOCKS starts a SOCKS5 listener on bindHost:bindPort that resolves
// each request's destination and opens a direct-tcpip channel on client
// to reach it. creds may be nil for a no-auth-only listener.
func OpenSOCKS(client *ssh.Client, bindHost string, bindPort int, creds Credentials) (*Tunnel, error) {
	cfg := &socks5.Config{Dial: sshDialer{client: client}.Dial}
	if creds != nil {
		cfg.Credentials = credentialAdapter{creds}
	}
	server, err := socks5.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("forward: build socks5 server: %w", err)
	}

	t := &Tunnel{
		Type: TypeSOCKS, BindHost: bindHost, BindPort: bindPort,
		client: client, state: StateOpening, closeCh: make(chan struct{}),
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(bindPort)))
	if err != nil {
		t.setState(StateClosed)
		return nil, fmt.Errorf("forward: socks5 listen: %w", err)
	}
	t.listener = ln
	t.setState(StateOpen)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = server.Serve(ln)
	}()
	return t, nil
}

type credentialAdapter struct{ c Credentials }

func (a credentialAdapter) Valid(user, password string) bool { return a.c.Valid(user, password) }
