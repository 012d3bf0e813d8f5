// SPDX-License-Identifier: MPL-2.0

// Package docker implements the Docker Adapter (spec.md §4.7/C9): it runs
// commands inside an already-running container via the moby client's exec
// API and moves files via its container-copy endpoints. It never creates
// or removes containers.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"

	"xec/adapter"
	"xec/target"
	"xec/xecerr"
)

// Adapter executes against already-running Docker containers.
type Adapter struct {
	newClient func(d target.Descriptor) (*client.Client, error)
}

// New builds a docker Adapter. A descriptor's DockerParams.Host/TLSVerify/
// CertPath select a non-default daemon connection per call; the common
// case (empty DockerParams.Host) uses the environment's DOCKER_HOST via
// client.WithAPIVersionNegotiation, same as other_examples' restricted
// client wrapper.
func New() *Adapter {
	return &Adapter{newClient: dialClient}
}

func dialClient(d target.Descriptor) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if d.Docker != nil && d.Docker.Host != "" {
		opts = append(opts, client.WithHost(d.Docker.Host))
	}
	if d.Docker != nil && d.Docker.TLSVerify {
		httpClient, err := tlsHTTPClient(d.Docker.CertPath)
		if err != nil {
			return nil, fmt.Errorf("docker: tls client config: %w", err)
		}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	return cli, nil
}

// tlsHTTPClient builds an *http.Client whose transport presents the
// ca.pem/cert.pem/key.pem triple under certPath, following the same
// file-naming convention as the docker CLI's DOCKER_CERT_PATH. An empty
// certPath still verifies against the system trust store.
func tlsHTTPClient(certPath string) (*http.Client, error) {
	tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
		CAFile:   filepath.Join(certPath, "ca.pem"),
		CertFile: filepath.Join(certPath, "cert.pem"),
		KeyFile:  filepath.Join(certPath, "key.pem"),
	})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

func (a *Adapter) Kind() target.Kind { return target.KindDocker }

func (a *Adapter) Exec(ctx context.Context, d target.Descriptor, req adapter.ExecRequest) (adapter.ExecResult, error) {
	if d.Docker == nil {
		return adapter.ExecResult{}, fmt.Errorf("docker: descriptor has no DockerParams")
	}
	cli, err := a.newClient(d)
	if err != nil {
		return adapter.ExecResult{}, err
	}
	defer cli.Close()

	cmd := buildArgv(req)
	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   coalesce(req.Cwd, d.Docker.WorkDir),
		User:         d.Docker.User,
		AttachStdin:  req.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          req.Interactive,
	}

	created, err := cli.ContainerExecCreate(ctx, d.Docker.Container, execCfg)
	if err != nil {
		if client.IsErrNotFound(err) {
			return adapter.ExecResult{}, &xecerr.TargetNotFoundError{Kind: "container", Name: d.Docker.Container}
		}
		return adapter.ExecResult{}, fmt.Errorf("docker: exec create: %w", err)
	}

	attached, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: req.Interactive})
	if err != nil {
		return adapter.ExecResult{}, fmt.Errorf("docker: exec attach: %w", err)
	}
	defer attached.Close()

	done := make(chan error, 1)
	go func() {
		if req.Stdin != nil {
			go func() {
				io.Copy(attached.Conn, req.Stdin)
				attached.CloseWrite()
			}()
		}
		done <- demux(attached.Reader, req.Stdout, req.Stderr, req.Interactive)
	}()

	select {
	case err := <-done:
		if err != nil {
			return adapter.ExecResult{}, fmt.Errorf("docker: stream exec output: %w", err)
		}
	case <-ctx.Done():
		return adapter.ExecResult{}, ctx.Err()
	}

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return adapter.ExecResult{}, fmt.Errorf("docker: exec inspect: %w", err)
	}
	return adapter.ExecResult{ExitCode: inspect.ExitCode}, nil
}

func buildArgv(req adapter.ExecRequest) []string {
	if len(req.Argv) > 0 {
		return req.Argv
	}
	shellPath := req.ShellPath
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	if req.ShellDisabled {
		return []string{req.Line}
	}
	return []string{shellPath, "-c", req.Line}
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// demux splits the multiplexed exec stream into stdout/stderr, following
// the moby stdcopy framing unless the exec used a TTY (in which case the
// stream is already a single unframed byte stream).
func demux(r io.Reader, stdout, stderr io.Writer, tty bool) error {
	if tty {
		if stdout == nil {
			stdout = io.Discard
		}
		_, err := io.Copy(stdout, r)
		return err
	}
	return stdcopyDemux(r, stdout, stderr)
}

// stdcopyDemux implements the moby stdout/stderr multiplexing frame
// format: an 8-byte header (1 stream-type byte, 3 reserved, 4 big-endian
// length) followed by that many bytes of payload, repeated until EOF.
func stdcopyDemux(r io.Reader, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	hdr := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		size := int(hdr[4])<<24 | int(hdr[5])<<16 | int(hdr[6])<<8 | int(hdr[7])
		dst := stdout
		if hdr[0] == 2 {
			dst = stderr
		}
		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			return err
		}
	}
}

func (a *Adapter) Copy(ctx context.Context, d target.Descriptor, direction adapter.CopyDirection, src, dst string, opts adapter.CopyOptions) error {
	if d.Docker == nil {
		return fmt.Errorf("docker: descriptor has no DockerParams")
	}
	cli, err := a.newClient(d)
	if err != nil {
		return err
	}
	defer cli.Close()

	switch direction {
	case adapter.Upload:
		return a.upload(ctx, cli, d.Docker.Container, src, dst, opts)
	default:
		return a.download(ctx, cli, d.Docker.Container, src, dst, opts)
	}
}

func (a *Adapter) upload(ctx context.Context, cli *client.Client, containerID, src, dst string, opts adapter.CopyOptions) error {
	buf, err := tarFile(src, opts.OnProgress)
	if err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	if err := cli.CopyToContainer(ctx, containerID, filepath.Dir(dst), buf, container.CopyToContainerOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return &xecerr.TargetNotFoundError{Kind: "container", Name: containerID}
		}
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	return nil
}

func (a *Adapter) download(ctx context.Context, cli *client.Client, containerID, src, dst string, opts adapter.CopyOptions) error {
	rc, _, err := cli.CopyFromContainer(ctx, containerID, src)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &xecerr.TargetNotFoundError{Kind: "container", Name: containerID}
		}
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	defer rc.Close()

	if err := untarTo(rc, dst, opts.OnProgress); err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	return nil
}

// tarFile packs a single local file (or directory tree) into the tar
// stream CopyToContainer expects.
func tarFile(src string, onProgress func(int64)) (io.Reader, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	var total int64

	walkErr := filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Dir(src), path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		if err != nil {
			return err
		}
		total += n
		if onProgress != nil {
			onProgress(total)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	_ = info
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// untarTo extracts a tar stream (as returned by CopyFromContainer) under
// dst, which is always treated as a local directory: each entry is written
// to dst joined with its name in the archive.
func untarTo(r io.Reader, dst string, onProgress func(int64)) error {
	tr := tar.NewReader(r)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			n, err := io.Copy(f, tr)
			f.Close()
			if err != nil {
				return err
			}
			total += n
			if onProgress != nil {
				onProgress(total)
			}
		}
	}
}

// Close releases the adapter's resources for d. The adapter does not pool
// clients, so this is a no-op; each Exec/Copy dials and closes its own.
func (a *Adapter) Close(ctx context.Context, d target.Descriptor) error { return nil }
