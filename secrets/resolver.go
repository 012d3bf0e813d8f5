// SPDX-License-Identifier: MPL-2.0

package secrets

// HostPasswordResolver returns a function suitable for wiring into the
// SSH adapter's sudo password resolution: it looks up host in s under
// the convention "sudo:<host>", decrypting on demand and zeroing the
// plaintext after the caller is done with it.
//
// The returned closure copies the password into a fresh string (Go
// strings are immutable and cannot be zeroed in place), then zeroes the
// decrypted byte buffer before returning.
func HostPasswordResolver(s *Store) func(host string) (string, error) {
	return func(host string) (string, error) {
		plaintext, err := s.Get("sudo:" + host)
		if err != nil {
			return "", err
		}
		defer zero(plaintext)
		return string(plaintext), nil
	}
}
