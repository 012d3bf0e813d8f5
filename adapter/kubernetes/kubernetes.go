// SPDX-License-Identifier: MPL-2.0

// Package kubernetes implements the Kubernetes Adapter (spec.md §4.8/C10):
// it runs commands inside an already-running pod/container via the
// orchestrator's exec subresource, honouring namespace and context
// selection, and moves files using the same cp semantics `kubectl cp` uses
// (tar over the exec stream).
package kubernetes

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"xec/adapter"
	"xec/target"
	"xec/xecerr"
)

// Adapter executes against pods/containers in a Kubernetes cluster.
type Adapter struct {
	resolve func(d target.Descriptor) (*rest.Config, kubernetes.Interface, error)
}

// New builds a kubernetes Adapter resolving a REST config/clientset per
// descriptor (kubeconfig path + context selection), same as the reference
// kubernetes-mcp-server resolves a *rest.Config before building any client.
func New() *Adapter {
	return &Adapter{resolve: resolveClient}
}

func resolveClient(d target.Descriptor) (*rest.Config, kubernetes.Interface, error) {
	if d.Kubernetes == nil {
		return nil, nil, fmt.Errorf("kubernetes: descriptor has no KubernetesParams")
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if d.Kubernetes.Kubeconfig != "" {
		loadingRules.ExplicitPath = d.Kubernetes.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if d.Kubernetes.Context != "" {
		overrides.CurrentContext = d.Kubernetes.Context
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("kubernetes: load config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("kubernetes: build clientset: %w", err)
	}
	return cfg, clientset, nil
}

func (a *Adapter) Kind() target.Kind { return target.KindKubernetes }

func namespaceOf(d target.Descriptor) string {
	if d.Kubernetes.Namespace != "" {
		return d.Kubernetes.Namespace
	}
	return "default"
}

func (a *Adapter) Exec(ctx context.Context, d target.Descriptor, req adapter.ExecRequest) (adapter.ExecResult, error) {
	if d.Kubernetes == nil {
		return adapter.ExecResult{}, fmt.Errorf("kubernetes: descriptor has no KubernetesParams")
	}
	cfg, clientset, err := a.resolve(d)
	if err != nil {
		return adapter.ExecResult{}, err
	}

	execReq := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(d.Kubernetes.Pod).
		Namespace(namespaceOf(d)).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: d.Kubernetes.Container,
			Command:   buildArgv(req),
			Stdin:     req.Stdin != nil,
			Stdout:    true,
			Stderr:    true,
			TTY:       req.Interactive,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(cfg, "POST", execReq.URL())
	if err != nil {
		return adapter.ExecResult{}, fmt.Errorf("kubernetes: create exec stream: %w", err)
	}

	stdout := req.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := req.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- exec.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdin:  req.Stdin,
			Stdout: stdout,
			Stderr: stderr,
			Tty:    req.Interactive,
		})
	}()

	select {
	case err := <-streamErr:
		if err == nil {
			return adapter.ExecResult{ExitCode: 0}, nil
		}
		if errors.IsNotFound(err) {
			return adapter.ExecResult{}, &xecerr.TargetNotFoundError{Kind: "pod", Name: d.Kubernetes.Pod}
		}
		if exitCode, ok := exitCodeFromError(err); ok {
			return adapter.ExecResult{ExitCode: exitCode}, nil
		}
		return adapter.ExecResult{}, fmt.Errorf("kubernetes: exec stream: %w", err)
	case <-ctx.Done():
		return adapter.ExecResult{}, ctx.Err()
	}
}

// exitCodeFromError recognises remotecommand's CodeExitError, which carries
// the in-container process's exit status rather than a transport failure.
func exitCodeFromError(err error) (int, bool) {
	type exitCoder interface {
		ExitStatus() int
	}
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitStatus(), true
	}
	return 0, false
}

// LogLine is one line of a streamed pod log, carrying the timestamp the
// container runtime attached to it.
type LogLine struct {
	Timestamp time.Time
	Text      string
}

// LogOptions configures Logs.
type LogOptions struct {
	// Since, when non-zero, requests only log lines emitted at or after it.
	Since time.Time
	// Previous requests the log of the previous (crashed/restarted)
	// instance of the container instead of the current one.
	Previous bool
}

// Logs exposes a pod's container log as a lazy, cancellable sequence of
// timestamped lines (spec.md §4.8): the log stream is opened before Logs
// returns, and lines are then read as the returned channel is consumed
// (at most one line ahead of the reader). Cancelling ctx stops the
// underlying stream and closes both channels. The error channel carries at
// most one value and is closed alongside lines.
func (a *Adapter) Logs(ctx context.Context, d target.Descriptor, opts LogOptions) (<-chan LogLine, <-chan error, error) {
	if d.Kubernetes == nil {
		return nil, nil, fmt.Errorf("kubernetes: descriptor has no KubernetesParams")
	}
	_, clientset, err := a.resolve(d)
	if err != nil {
		return nil, nil, err
	}

	podLogOpts := &corev1.PodLogOptions{
		Container:  d.Kubernetes.Container,
		Follow:     true,
		Timestamps: true,
		Previous:   opts.Previous,
	}
	if !opts.Since.IsZero() {
		since := metav1.NewTime(opts.Since)
		podLogOpts.SinceTime = &since
	}

	stream, err := clientset.CoreV1().Pods(namespaceOf(d)).GetLogs(d.Kubernetes.Pod, podLogOpts).Stream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("kubernetes: open log stream: %w", err)
	}

	lines := make(chan LogLine)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errc)
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			ts, text := splitLogTimestamp(scanner.Text())
			select {
			case lines <- LogLine{Timestamp: ts, Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if scanErr := scanner.Err(); scanErr != nil && ctx.Err() == nil {
			errc <- scanErr
		}
	}()

	return lines, errc, nil
}

// splitLogTimestamp parses the RFC3339Nano-prefixed line GetLogs produces
// when PodLogOptions.Timestamps is set: "<timestamp> <line>".
func splitLogTimestamp(line string) (time.Time, string) {
	rest, text, ok := strings.Cut(line, " ")
	if !ok {
		return time.Time{}, line
	}
	ts, err := time.Parse(time.RFC3339Nano, rest)
	if err != nil {
		return time.Time{}, line
	}
	return ts, text
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

// Copy implements kubectl cp semantics: tar the source on one side of an
// exec'd `tar` process and pipe the stream to/from the other side.
func (a *Adapter) Copy(ctx context.Context, d target.Descriptor, direction adapter.CopyDirection, src, dst string, opts adapter.CopyOptions) error {
	if d.Kubernetes == nil {
		return fmt.Errorf("kubernetes: descriptor has no KubernetesParams")
	}
	cfg, clientset, err := a.resolve(d)
	if err != nil {
		return err
	}

	switch direction {
	case adapter.Upload:
		return a.upload(ctx, cfg, clientset, d, src, dst, opts)
	default:
		return a.download(ctx, cfg, clientset, d, src, dst, opts)
	}
}

func (a *Adapter) upload(ctx context.Context, cfg *rest.Config, clientset kubernetes.Interface, d target.Descriptor, src, dst string, opts adapter.CopyOptions) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarToWriter(src, pw, opts.OnProgress))
	}()

	execReq := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(d.Kubernetes.Pod).
		Namespace(namespaceOf(d)).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: d.Kubernetes.Container,
			Command:   []string{"tar", "-xf", "-", "-C", filepath.Dir(dst)},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(cfg, "POST", execReq.URL())
	if err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	var stderr bytes.Buffer
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{Stdin: pr, Stdout: io.Discard, Stderr: &stderr}); err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: fmt.Errorf("%w: %s", err, stderr.String())}
	}
	return nil
}

func (a *Adapter) download(ctx context.Context, cfg *rest.Config, clientset kubernetes.Interface, d target.Descriptor, src, dst string, opts adapter.CopyOptions) error {
	pr, pw := io.Pipe()

	execReq := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(d.Kubernetes.Pod).
		Namespace(namespaceOf(d)).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: d.Kubernetes.Container,
			Command:   []string{"tar", "-cf", "-", "-C", filepath.Dir(src), filepath.Base(src)},
			Stdin:     false,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(cfg, "POST", execReq.URL())
	if err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}

	streamDone := make(chan error, 1)
	go func() {
		var stderr bytes.Buffer
		err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: pw, Stderr: &stderr})
		if err != nil {
			err = fmt.Errorf("%w: %s", err, stderr.String())
		}
		pw.CloseWithError(err)
		streamDone <- err
	}()

	if err := untarFromReader(pr, dst, opts.OnProgress); err != nil {
		return &xecerr.TransferError{Source: src, Destination: dst, Cause: err}
	}
	<-streamDone
	return nil
}

// tarToWriter packs src (file or directory) as a tar stream, same layout
// kubectl cp produces so the remote `tar -xf -` unpacks it unmodified.
func tarToWriter(src string, w io.Writer, onProgress func(int64)) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	var total int64
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
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
}

func untarFromReader(r io.Reader, dst string, onProgress func(int64)) error {
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

// Close releases the adapter's resources for d. The adapter does not cache
// clientsets across calls, so this is a no-op.
func (a *Adapter) Close(ctx context.Context, d target.Descriptor) error { return nil }
