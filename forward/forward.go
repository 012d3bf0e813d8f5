// SPDX-License-Identifier: MPL-2.0

// Package forward implements Port Forwarding (spec.md §4.11/C13): local,
// remote, and SOCKS5 dynamic tunnels over an *ssh.Client, each governed by
// an opening->open->closing->closed state machine. A tunnel stays open
// until its own Close (or CloseAll) is called, even if the client closes.
package forward

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Type identifies the tunnel kind.
type Type int

const (
	TypeLocal Type = iota
	TypeRemote
	TypeSOCKS
)

// State is a tunnel's lifecycle state (spec.md §4.11).
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Tunnel is one forwarded connection (spec.md §3).
type Tunnel struct {
	Type Type

	BindHost string
	BindPort int

	TargetHost string
	TargetPort int

	client *ssh.Client

	mu       sync.Mutex
	state    State
	listener net.Listener
	wg       sync.WaitGroup
	closeCh  chan struct{}
}

// State returns the tunnel's current lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// OpenLocal listens on bindHost:bindPort and, for each accepted client,
// opens a direct-tcpip channel to targetHost:targetPort, piping both
// directions (spec.md §4.11 "Local forward").
func OpenLocal(client *ssh.Client, bindHost string, bindPort int, targetHost string, targetPort int) (*Tunnel, error) {
	t := &Tunnel{
		Type: TypeLocal, BindHost: bindHost, BindPort: bindPort,
		TargetHost: targetHost, TargetPort: targetPort,
		client: client, state: StateOpening, closeCh: make(chan struct{}),
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(bindPort)))
	if err != nil {
		t.setState(StateClosed)
		return nil, fmt.Errorf("forward: local listen: %w", err)
	}
	t.listener = ln
	t.setState(StateOpen)

	t.wg.Add(1)
	go t.acceptLoop(func(local net.Conn) {
		remote, err := client.Dial("tcp", net.JoinHostPort(targetHost, strconv.Itoa(targetPort)))
		if err != nil {
			local.Close()
			return
		}
		pipe(local, remote)
	})
	return t, nil
}

// OpenRemote asks the SSH peer to listen on remoteHost:remotePort; for
// each inbound channel, dials localHost:localPort locally and pipes
// (spec.md §4.11 "Remote forward").
func OpenRemote(client *ssh.Client, remoteHost string, remotePort int, localHost string, localPort int) (*Tunnel, error) {
	t := &Tunnel{
		Type: TypeRemote, BindHost: remoteHost, BindPort: remotePort,
		TargetHost: localHost, TargetPort: localPort,
		client: client, state: StateOpening, closeCh: make(chan struct{}),
	}
	ln, err := client.Listen("tcp", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		t.setState(StateClosed)
		return nil, fmt.Errorf("forward: remote listen: %w", err)
	}
	t.listener = ln
	t.setState(StateOpen)

	t.wg.Add(1)
	go t.acceptLoop(func(remote net.Conn) {
		local, err := net.Dial("tcp", net.JoinHostPort(localHost, strconv.Itoa(localPort)))
		if err != nil {
			remote.Close()
			return
		}
		pipe(local, remote)
	})
	return t, nil
}

func (t *Tunnel) acceptLoop(handle func(net.Conn)) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			if t.State() != StateOpen {
				return
			}
			continue
		}
		if t.State() != StateOpen {
			// closing drains in-flight flows but refuses new ones
			// (spec.md §4.11).
			conn.Close()
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			handle(conn)
		}()
	}
}

// Close transitions the tunnel through closing->closed: it closes the
// listener so no new flows are accepted, then waits for in-flight flows to
// finish. Closing a tunnel that is already closing or closed returns
// ErrClosed.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.state == StateClosing || t.state == StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.state = StateClosing
	t.mu.Unlock()
	close(t.closeCh)
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.wg.Wait()
	t.setState(StateClosed)
	return err
}

// pipe copies both directions between a and b until either side closes,
// then closes both ends.
func pipe(a, b net.Conn) {
	defer a.Close()
	defer b.Close()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(a, b) }()
	go func() { defer wg.Done(); io.Copy(b, a) }()
	wg.Wait()
}


// ErrClosed is returned by operations attempted on a closed tunnel.
var ErrClosed = errors.New("forward: tunnel is closed")

// CloseAll closes every tunnel in tunnels that is not already closed.
// Tunnels are not closed automatically when their ssh.Client closes; this
// package never calls CloseAll itself.
func CloseAll(tunnels []*Tunnel) {
	for _, t := range tunnels {
		if t.State() != StateClosed {
			_ = t.Close()
		}
	}
}
