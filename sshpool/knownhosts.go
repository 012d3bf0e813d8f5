// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsCallback builds a strict HostKeyCallback backed by path, or
// the user's default ~/.ssh/known_hosts when path is empty. If the file
// cannot be read, every host key is rejected rather than silently
// accepted, since StrictHostKeyChecking was explicitly requested.
func knownHostsCallback(path string) ssh.HostKeyCallback {
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return err
		}
	}
	return cb
}
