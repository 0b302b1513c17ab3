// Package transport manages the credential-forwarded tunnel to the
// cluster's login host: a persistent control channel, a dynamic HTTP
// forward for reaching compute-node endpoints, directory sync, and
// batch-API token acquisition. It shells out to the system `ssh` and
// `rsync` binaries rather than embedding an SSH client, mirroring the
// original control plane's approach of never touching raw key material
// directly (auth rides the forwarded agent socket only).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "transport"

// Transport owns the control channel and dynamic forward to the login
// host and exposes an HTTP client routed through them.
type Transport struct {
	cfg *config.Config

	target        string
	baseArgs      []string
	controlSocket string

	mu                sync.Mutex
	controlActive     bool
	lastControlCheck  time.Time
	forwardCmd        *exec.Cmd
	httpClient        *http.Client
}

// New constructs a Transport bound to the cluster described by cfg. It
// does not dial anything; call Start to bring up the control channel
// and dynamic forward.
func New(cfg *config.Config) *Transport {
	target := fmt.Sprintf("%s@%s", cfg.Username, cfg.LoginHost)

	base := []string{}
	if cfg.LoginPort != 22 {
		base = append(base, "-p", fmt.Sprintf("%d", cfg.LoginPort))
	}
	base = append(base,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
	)

	return &Transport{
		cfg:           cfg,
		target:        target,
		baseArgs:      base,
		controlSocket: cfg.ControlSocketPath,
	}
}

// Start ensures the control channel and dynamic forward are up.
func (t *Transport) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(t.controlSocket), 0o700); err != nil {
		return apperror.Internal(subsystem, err, "creating control socket directory")
	}
	if err := t.ensureControlMaster(ctx); err != nil {
		return err
	}
	if err := t.ensureDynamicForward(ctx); err != nil {
		return err
	}
	return nil
}

// Stop tears down the control channel gracefully.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.forwardCmd != nil && t.forwardCmd.Process != nil {
		_ = t.forwardCmd.Process.Kill()
		t.forwardCmd = nil
	}

	if !t.controlActive {
		return
	}
	args := append(t.sshArgsWithControl(), "-O", "exit", t.target)
	cmd := exec.Command("ssh", args...)
	_ = cmd.Run()
	t.controlActive = false
}

// ensureControlMaster mirrors the original control plane's 30s liveness
// cache: an already-verified-recent master is trusted without a new
// probe, otherwise it's checked and, if dead, rebuilt.
func (t *Transport) ensureControlMaster(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.controlActive && now.Sub(t.lastControlCheck) < config.ProbeLivenessInterval {
		return nil
	}

	if t.controlSocketExists() {
		checkArgs := append(t.baseArgs, "-S", t.controlSocket, "-O", "check", t.target)
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := exec.CommandContext(checkCtx, "ssh", checkArgs...).Run(); err == nil {
			t.controlActive = true
			t.lastControlCheck = now
			return nil
		}
		logging.Debug(subsystem, "control master check failed, recreating")
	}

	masterArgs := append(t.baseArgs,
		"-M",
		"-S", t.controlSocket,
		"-o", "ControlPersist=600",
		"-o", "ServerAliveInterval=60",
		"-o", "ServerAliveCountMax=3",
		"-o", "ExitOnForwardFailure=yes",
		"-fN",
		t.target,
	)
	buildCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(buildCtx, "ssh", masterArgs...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.controlActive = false
		return apperror.TransportUnavailable(err, "creating control channel: %s", strings.TrimSpace(stderr.String()))
	}

	time.Sleep(200 * time.Millisecond)
	if !t.controlSocketExists() {
		t.controlActive = false
		return apperror.TransportUnavailable(nil, "control socket was not created")
	}

	t.controlActive = true
	t.lastControlCheck = now
	logging.Info(subsystem, "control channel established to %s", t.target)
	return nil
}

func (t *Transport) controlSocketExists() bool {
	_, err := os.Stat(t.controlSocket)
	return err == nil
}

func (t *Transport) sshArgsWithControl() []string {
	args := append([]string{}, t.baseArgs...)
	if t.controlActive {
		args = append(args, "-S", t.controlSocket)
	}
	return args
}

// ensureDynamicForward starts (or restarts, if the previous process
// died) the SOCKS-style dynamic HTTP forward used to reach compute
// nodes that are not directly routable from this process.
func (t *Transport) ensureDynamicForward(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.forwardCmd != nil && t.forwardCmd.Process != nil {
		if t.forwardCmd.ProcessState == nil {
			return nil // still running
		}
		logging.Warn(subsystem, "dynamic forward process exited (code=%d), restarting", t.forwardCmd.ProcessState.ExitCode())
		t.forwardCmd = nil
	}

	args := append(t.sshArgsWithControl(),
		"-D", fmt.Sprintf("%d", t.cfg.DynamicForwardPort),
		"-N",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=60",
		t.target,
	)
	cmd := exec.Command("ssh", args...)
	if err := cmd.Start(); err != nil {
		return apperror.TransportUnavailable(err, "starting dynamic forward")
	}
	t.forwardCmd = cmd

	proxyURL, err := url.Parse(fmt.Sprintf("socks5h://127.0.0.1:%d", t.cfg.DynamicForwardPort))
	if err != nil {
		return apperror.Internal(subsystem, err, "parsing dynamic forward proxy URL")
	}
	t.httpClient = &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
		},
	}

	logging.Info(subsystem, "dynamic forward established on 127.0.0.1:%d", t.cfg.DynamicForwardPort)
	return nil
}

// HTTPClient returns an *http.Client routed through the dynamic
// forward, restarting the forward first if its process has died.
func (t *Transport) HTTPClient(ctx context.Context) (*http.Client, error) {
	if err := t.ensureDynamicForward(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.httpClient, nil
}

// RunCommand executes command on the login host over the control
// channel and returns its stdout; on failure the returned error carries
// the trimmed stderr.
func (t *Transport) RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := t.ensureControlMaster(ctx); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(t.sshArgsWithControl(), t.target, command)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "ssh", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperror.TransportUnavailable(err, "remote command failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// AcquireBatchToken runs the configured token command on the login
// host and parses the single `KEY=VALUE` line from its output. The
// token is never cached by this method; callers decide their own
// caching policy.
func (t *Transport) AcquireBatchToken(ctx context.Context) (string, error) {
	out, err := t.RunCommand(ctx, t.cfg.TokenCommand, 10*time.Second)
	if err != nil {
		return "", err
	}
	token, ok := parseTokenOutput(out)
	if !ok {
		return "", apperror.TransportUnavailable(nil, "could not parse batch token from output: %q", out)
	}
	return token, nil
}

// parseTokenOutput pulls the value out of the first `KEY=VALUE` line in
// command output, e.g. "SLURM_JWT=eyJhbGc...".
func parseTokenOutput(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.IndexByte(line, '='); idx > 0 {
			return strings.TrimSpace(line[idx+1:]), true
		}
	}
	return "", false
}

// SyncDirectoryToRemote mirrors a local directory onto the login host
// via rsync over the control channel, deleting remote files that no
// longer exist locally.
func (t *Transport) SyncDirectoryToRemote(ctx context.Context, localDir, remoteDir string, excludePatterns []string) error {
	if err := t.ensureControlMaster(ctx); err != nil {
		return err
	}
	if _, err := t.RunCommand(ctx, fmt.Sprintf("mkdir -p '%s'", remoteDir), 30*time.Second); err != nil {
		return err
	}

	sshCmd := "ssh"
	for i := 0; i < len(t.baseArgs); i++ {
		sshCmd += " " + t.baseArgs[i]
	}
	if t.controlActive {
		sshCmd += fmt.Sprintf(" -S %s", t.controlSocket)
	}

	args := []string{"-az", "--delete", "-e", sshCmd}
	for _, pattern := range excludePatterns {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, localDir+"/", fmt.Sprintf("%s:%s/", t.target, remoteDir))

	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "rsync", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apperror.TransportUnavailable(err, "syncing %s to %s: %s", localDir, remoteDir, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// SyncDirectoryFromRemote mirrors a remote directory back to the
// local filesystem, used for pulling job logs and artifacts.
func (t *Transport) SyncDirectoryFromRemote(ctx context.Context, remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return apperror.Internal(subsystem, err, "creating local sync directory")
	}
	if err := t.ensureControlMaster(ctx); err != nil {
		return err
	}

	sshCmd := "ssh"
	for i := 0; i < len(t.baseArgs); i++ {
		sshCmd += " " + t.baseArgs[i]
	}
	if t.controlActive {
		sshCmd += fmt.Sprintf(" -S %s", t.controlSocket)
	}

	args := []string{
		"--recursive", "--compress", "--inplace", "--quiet",
		"--append", "--copy-unsafe-links", "--delete", "--chmod=444",
		"--timeout=60", "-e", sshCmd,
		"--exclude=server.log",
		fmt.Sprintf("%s:%s/", t.target, remoteDir), localDir,
	}

	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "rsync", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apperror.TransportUnavailable(err, "syncing %s from remote: %s", remoteDir, strings.TrimSpace(stderr.String()))
	}
	return nil
}
