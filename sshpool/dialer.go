// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"xec/target"
	"xec/xecerr"
)

// DefaultDialer dials SSH connections over TCP, resolving auth methods
// from target.Auth and chaining through JumpHosts when present.
type DefaultDialer struct{}

// Dial implements Dialer.
func (DefaultDialer) Dial(ctx context.Context, params target.SSHParams) (*ssh.Client, error) {
	chain := append(append([]target.SSHParams(nil), params.JumpHosts...), params)

	var (
		client *ssh.Client
		conn   net.Conn
	)
	for i, hop := range chain {
		cfg, err := clientConfig(hop)
		if err != nil {
			return nil, &xecerr.HopError{HopIndex: i, Host: hop.Host, Cause: err}
		}
		addr := net.JoinHostPort(hop.Host, port(hop.Port))

		if client == nil {
			d := net.Dialer{Timeout: connectTimeout(hop)}
			raw, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, &xecerr.HopError{HopIndex: i, Host: hop.Host, Cause: &xecerr.ConnectionError{Address: addr, Cause: err}}
			}
			conn = raw
		} else {
			raw, err := client.Dial("tcp", addr)
			if err != nil {
				return nil, &xecerr.HopError{HopIndex: i, Host: hop.Host, Cause: &xecerr.ConnectionError{Address: addr, Cause: err}}
			}
			conn = raw
		}

		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			return nil, &xecerr.HopError{HopIndex: i, Host: hop.Host, Cause: &xecerr.AuthError{Host: hop.Host, Methods: methodNames(hop.Auth), Cause: err}}
		}
		client = ssh.NewClient(c, chans, reqs)
	}
	return client, nil
}

func clientConfig(p target.SSHParams) (*ssh.ClientConfig, error) {
	methods, err := authMethods(p.Auth)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            p.User,
		Auth:            methods,
		Timeout:         connectTimeout(p),
		HostKeyCallback: hostKeyCallback(p),
	}
	if len(p.Algorithms.KeyExchanges) > 0 {
		cfg.Config.KeyExchanges = p.Algorithms.KeyExchanges
	}
	if len(p.Algorithms.Ciphers) > 0 {
		cfg.Config.Ciphers = p.Algorithms.Ciphers
	}
	if len(p.Algorithms.MACs) > 0 {
		cfg.Config.MACs = p.Algorithms.MACs
	}
	if len(p.Algorithms.HostKeys) > 0 {
		cfg.HostKeyAlgorithms = p.Algorithms.HostKeys
	}
	return cfg, nil
}

func authMethods(a target.Auth) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	switch a.SelectMethod() {
	case target.MethodPrivateKey:
		signer, err := loadSigner(a)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case target.MethodAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("agent auth requested but SSH_AUTH_SOCK is unset")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("dial ssh-agent: %w", err)
		}
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	case target.MethodKeyboardInteractive:
		answers := a.Answers
		methods = append(methods, ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			out := make([]string, len(questions))
			for i := range questions {
				if i < len(answers) {
					out[i] = answers[i]
				}
			}
			return out, nil
		}))
	case target.MethodPassword:
		methods = append(methods, ssh.Password(a.Password))
	}
	return methods, nil
}

func loadSigner(a target.Auth) (ssh.Signer, error) {
	var pemBytes []byte
	if len(a.PrivateKeyPEM) > 0 {
		pemBytes = a.PrivateKeyPEM
	} else {
		b, err := readFile(a.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		pemBytes = b
	}
	if a.Passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(a.Passphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// hostKeyCallback returns ssh.InsecureIgnoreHostKey when strict checking
// is disabled, otherwise a callback consulting KnownHostsFile.
func hostKeyCallback(p target.SSHParams) ssh.HostKeyCallback {
	if !p.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey()
	}
	return knownHostsCallback(p.KnownHostsFile)
}

func methodNames(a target.Auth) []string {
	if m := a.SelectMethod(); m != "" {
		return []string{string(m)}
	}
	return nil
}

func connectTimeout(p target.SSHParams) time.Duration {
	if p.ConnectTimeout > 0 {
		return p.ConnectTimeout
	}
	return 15 * time.Second
}

func port(p int) string {
	if p == 0 {
		return "22"
	}
	return fmt.Sprintf("%d", p)
}
