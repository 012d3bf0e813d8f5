// SPDX-License-Identifier: MPL-2.0

// Package sshpool implements the SSH connection pool (spec.md §4.6/C8):
// one pool entry per Target Descriptor fingerprint, each bounded by
// min/max connection counts, reaped for idleness, and liveness-checked on
// borrow. Jump-host chains are dialled lazily and keyed by the full chain
// descriptor, same as a direct connection.
package sshpool

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"

	"xec/target"
	"xec/xecerr"
)

// Options configures a Pool.
type Options struct {
	MaxConnections      int
	MinIdle             int
	IdleTimeout         time.Duration
	AcquisitionTimeout  time.Duration
	ReapInterval        time.Duration
	LivenessCheckOnBorrow bool
}

// DefaultOptions returns the pool defaults used when the caller supplies
// a zero-value Options.
func DefaultOptions() Options {
	return Options{
		MaxConnections:        8,
		MinIdle:               0,
		IdleTimeout:           5 * time.Minute,
		AcquisitionTimeout:    30 * time.Second,
		ReapInterval:          30 * time.Second,
		LivenessCheckOnBorrow: true,
	}
}

// Connection is one pooled SSH connection (spec.md §3 "Connection (SSH
// Pool Entry)").
type Connection struct {
	Fingerprint string
	client      *ssh.Client

	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
	healthy   bool
	openChans int

	mu sync.Mutex
}

// Client returns the underlying *ssh.Client for session/SFTP channel creation.
func (c *Connection) Client() *ssh.Client { return c.client }

// Healthy runs a trivial keepalive request and reports whether the
// connection is still usable.
func (c *Connection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return false
	}
	_, _, err := c.client.SendRequest("keepalive@xec", true, nil)
	c.healthy = err == nil
	return c.healthy
}

func (c *Connection) markOpenChannel(delta int) {
	c.mu.Lock()
	c.openChans += delta
	c.mu.Unlock()
}

// Pool manages Connections keyed by descriptor fingerprint.
type Pool struct {
	opts   Options
	dialer Dialer
	logger *log.Logger

	mu      sync.Mutex
	entries map[string][]*Connection
	waiters map[string]int

	closeOnce sync.Once
	stopReap  chan struct{}
}

// Dialer opens the transport-level SSH connection for a descriptor,
// including any jump-host chain. It is an interface so tests can stub
// dialing without a real network.
type Dialer interface {
	Dial(ctx context.Context, d target.SSHParams) (*ssh.Client, error)
}

// New builds a Pool. A nil dialer uses DefaultDialer.
func New(opts Options, dialer Dialer) *Pool {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if dialer == nil {
		dialer = DefaultDialer{}
	}
	p := &Pool{
		opts:     opts,
		dialer:   dialer,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "ssh-pool"}),
		entries:  make(map[string][]*Connection),
		waiters:  make(map[string]int),
		stopReap: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire returns an idle healthy connection for params if one exists;
// otherwise opens a new one if under the per-fingerprint cap; otherwise
// waits up to AcquisitionTimeout before returning PoolExhaustedError
// (spec.md §4.6).
func (p *Pool) Acquire(ctx context.Context, params target.SSHParams) (*Connection, error) {
	fp := (target.Descriptor{Kind: target.KindSSH, SSH: &params}).Fingerprint()
	deadline := time.Now().Add(p.opts.AcquisitionTimeout)

	for {
		if conn := p.tryBorrow(fp); conn != nil {
			return conn, nil
		}
		if p.countFor(fp) < p.opts.MaxConnections {
			conn, err := p.dial(ctx, fp, params)
			if err == nil {
				return conn, nil
			}
			var hop *xecerr.HopError
			if errors.As(err, &hop) {
				return nil, err
			}
			p.logger.Warn("dial failed, will retry within acquisition window", "fingerprint", fp, "error", err)
		}
		if time.Now().After(deadline) {
			return nil, &xecerr.PoolExhaustedError{Fingerprint: fp, MaxConns: p.opts.MaxConnections, Waited: p.opts.AcquisitionTimeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *Pool) tryBorrow(fp string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.entries[fp] {
		conn.mu.Lock()
		idle := !conn.inUse
		conn.mu.Unlock()
		if !idle {
			continue
		}
		if p.opts.LivenessCheckOnBorrow && !conn.Healthy() {
			p.removeLocked(fp, conn)
			continue
		}
		conn.mu.Lock()
		conn.inUse = true
		conn.lastUsed = time.Now()
		conn.mu.Unlock()
		return conn
	}
	return nil
}

func (p *Pool) countFor(fp string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries[fp])
}

func (p *Pool) dial(ctx context.Context, fp string, params target.SSHParams) (*Connection, error) {
	client, err := p.dialer.Dial(ctx, params)
	if err != nil {
		return nil, err
	}
	conn := &Connection{
		Fingerprint: fp,
		client:      client,
		createdAt:   time.Now(),
		lastUsed:    time.Now(),
		inUse:       true,
		healthy:     true,
	}
	p.mu.Lock()
	p.entries[fp] = append(p.entries[fp], conn)
	p.mu.Unlock()
	return conn, nil
}

// Release returns conn to the pool. An unhealthy connection is destroyed
// and not replaced, so its fingerprint may hold fewer than MinIdle
// connections until a later Acquire dials a new one.
func (p *Pool) Release(conn *Connection) {
	conn.mu.Lock()
	conn.inUse = false
	conn.lastUsed = time.Now()
	unhealthy := !conn.healthy
	conn.mu.Unlock()

	if unhealthy {
		p.mu.Lock()
		p.removeLocked(conn.Fingerprint, conn)
		p.mu.Unlock()
	}
}

func (p *Pool) removeLocked(fp string, conn *Connection) {
	list := p.entries[fp]
	for i, c := range list {
		if c == conn {
			p.entries[fp] = append(list[:i], list[i+1:]...)
			_ = conn.client.Close()
			return
		}
	}
}

// reapLoop closes idle connections that have exceeded IdleTimeout.
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReap:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fp, list := range p.entries {
		kept := list[:0]
		for _, conn := range list {
			conn.mu.Lock()
			idleFor := time.Since(conn.lastUsed)
			idle := !conn.inUse
			conn.mu.Unlock()
			if idle && idleFor > p.opts.IdleTimeout && len(kept) >= p.opts.MinIdle {
				_ = conn.client.Close()
				continue
			}
			kept = append(kept, conn)
		}
		p.entries[fp] = kept
	}
}

// Close stops the reaper and closes every pooled connection.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopReap)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	for fp, list := range p.entries {
		for _, conn := range list {
			_ = conn.client.Close()
		}
		delete(p.entries, fp)
	}
	return nil
}

// CloseFingerprint closes and forgets every connection for fp, used when
// the owning Target Descriptor is explicitly disposed.
func (p *Pool) CloseFingerprint(fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.entries[fp] {
		_ = conn.client.Close()
	}
	delete(p.entries, fp)
}
