// SPDX-License-Identifier: MPL-2.0

// Package bench holds hot-path benchmarks for the engine's pooling and
// process-spawn layers, one Benchmark<Subsystem> function per concern, in
// the same style as the teacher's internal/benchmark package.
package bench

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"xec/sshpool"
	"xec/target"
)

// benchDialer/startBenchSSHServer bring up a throwaway in-process SSH
// server so BenchmarkSSHPoolAcquireRelease exercises the pool's real
// locking and liveness-check path without any real network hop.
type benchDialer struct{ addr string }

func (d benchDialer) Dial(ctx context.Context, p target.SSHParams) (*ssh.Client, error) {
	conn, err := net.Dial("tcp", d.addr)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            "bench",
		Auth:            []ssh.AuthMethod{ssh.Password("bench")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, d.addr, cfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func startBenchSSHServer(b *testing.B) string {
	b.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		b.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		b.Fatalf("signer from key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("listen: %v", err)
	}
	b.Cleanup(func() { ln.Close() })

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
					newCh.Reject(ssh.UnknownChannelType, "no channels in this benchmark server")
				}
			}()
		}
	}()
	return ln.Addr().String()
}

// BenchmarkSSHPoolAcquireRelease measures steady-state borrow/return latency
// against a warm pool entry: the dial happens once, and every iteration
// after that exercises only the pool's locking, liveness check, and
// bookkeeping. This is the hot path a retried or looped remote Command
// takes on every attempt.
func BenchmarkSSHPoolAcquireRelease(b *testing.B) {
	addr := startBenchSSHServer(b)
	pool := sshpool.New(sshpool.Options{
		MaxConnections:        1,
		IdleTimeout:           time.Hour,
		AcquisitionTimeout:    time.Second,
		ReapInterval:          time.Hour,
		LivenessCheckOnBorrow: true,
	}, benchDialer{addr: addr})
	defer pool.Close()

	params := target.SSHParams{Host: "127.0.0.1", Port: mustPort(addr), User: "bench"}
	ctx := context.Background()

	// Warm the pool so the measured loop never pays dial cost.
	conn, err := pool.Acquire(ctx, params)
	if err != nil {
		b.Fatalf("warm acquire: %v", err)
	}
	pool.Release(conn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := pool.Acquire(ctx, params)
		if err != nil {
			b.Fatalf("acquire: %v", err)
		}
		pool.Release(conn)
	}
}

// BenchmarkSSHPoolAcquireReleaseNoLivenessCheck isolates the cost of the
// liveness keepalive request on borrow by disabling it, so the delta
// against BenchmarkSSHPoolAcquireRelease shows what LivenessCheckOnBorrow
// costs per acquire (spec.md §4.6 "liveness-checked on borrow").
func BenchmarkSSHPoolAcquireReleaseNoLivenessCheck(b *testing.B) {
	addr := startBenchSSHServer(b)
	pool := sshpool.New(sshpool.Options{
		MaxConnections:        1,
		IdleTimeout:           time.Hour,
		AcquisitionTimeout:    time.Second,
		ReapInterval:          time.Hour,
		LivenessCheckOnBorrow: false,
	}, benchDialer{addr: addr})
	defer pool.Close()

	params := target.SSHParams{Host: "127.0.0.1", Port: mustPort(addr), User: "bench"}
	ctx := context.Background()

	conn, err := pool.Acquire(ctx, params)
	if err != nil {
		b.Fatalf("warm acquire: %v", err)
	}
	pool.Release(conn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := pool.Acquire(ctx, params)
		if err != nil {
			b.Fatalf("acquire: %v", err)
		}
		pool.Release(conn)
	}
}

func mustPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var p int
	for _, c := range portStr {
		p = p*10 + int(c-'0')
	}
	return p
}
