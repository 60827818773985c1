package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

// SSHFactory connects to a Machine over SSH, using the credentials
// declared on the Machine itself (spec.md's "ssh-port"/"user"/"password"
// transport). Each Runner it produces owns one persistent SSH connection
// to that machine, matching roslaunch's one-connection-per-remote-host
// model rather than dialing fresh per node.
type SSHFactory struct {
	DialTimeout time.Duration
}

// NewSSHFactory returns an SSHFactory with a sensible dial timeout.
func NewSSHFactory() *SSHFactory {
	return &SSHFactory{DialTimeout: 10 * time.Second}
}

func (f *SSHFactory) Connect(ctx context.Context, machine *launchconfig.Machine) (Runner, error) {
	cfg := &ssh.ClientConfig{
		User:            machine.User,
		Auth:            []ssh.AuthMethod{ssh.Password(machine.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.dialTimeout(),
	}

	port := machine.SSHPort
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", machine.Address, port)

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("remote: ssh dial %s: %w", addr, err)
	}

	return &sshRunner{
		client:    client,
		envLoader: machine.EnvLoader,
		pids:      make(map[string]int),
	}, nil
}

func (f *SSHFactory) dialTimeout() time.Duration {
	if f.DialTimeout == 0 {
		return 10 * time.Second
	}
	return f.DialTimeout
}

// sshRunner supervises node processes on one remote machine over a single
// SSH connection, one session per command.
type sshRunner struct {
	client    *ssh.Client
	envLoader string

	mu   sync.Mutex
	pids map[string]int
}

func (r *sshRunner) Start(ctx context.Context, spec NodeSpec) error {
	session, err := r.client.NewSession()
	if err != nil {
		return fmt.Errorf("remote: new session: %w", err)
	}
	defer session.Close()

	cmdLine := r.buildCommandLine(spec)
	out, err := session.Output(cmdLine)
	if err != nil {
		return fmt.Errorf("remote: start %s: %w (output: %s)", spec.Name, err, out)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return fmt.Errorf("remote: could not parse remote pid for %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	r.pids[spec.Name] = pid
	r.mu.Unlock()
	return nil
}

// buildCommandLine backgrounds the node under nohup and echoes its PID, so
// a single SSH exec both launches the process and reports the handle this
// Runner needs for Stop/IsAlive, without keeping the SSH session open.
func (r *sshRunner) buildCommandLine(spec NodeSpec) string {
	var b strings.Builder
	if r.envLoader != "" {
		fmt.Fprintf(&b, "source %s && ", shellQuote(r.envLoader))
	}
	for _, kv := range spec.Env {
		fmt.Fprintf(&b, "export %s && ", shellQuote(kv))
	}
	if spec.CWD != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(spec.CWD))
	}
	fmt.Fprintf(&b, "nohup %s", shellQuote(spec.Command))
	for _, a := range spec.Args {
		fmt.Fprintf(&b, " %s", shellQuote(a))
	}
	b.WriteString(" > /tmp/launchgraph-" + sanitize(spec.Name) + ".log 2>&1 & echo $!")
	return b.String()
}

func (r *sshRunner) Stop(ctx context.Context, name string, gracePeriod time.Duration) error {
	r.mu.Lock()
	pid, ok := r.pids[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("remote: unknown node %q", name)
	}

	if err := r.signal(pid, "TERM"); err != nil {
		return fmt.Errorf("remote: SIGTERM %s: %w", name, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		alive, err := r.IsAlive(ctx, name)
		if err == nil && !alive {
			r.forget(name)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := r.signal(pid, "KILL"); err != nil {
		return fmt.Errorf("remote: SIGKILL %s: %w", name, err)
	}
	r.forget(name)
	return nil
}

func (r *sshRunner) IsAlive(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	pid, ok := r.pids[name]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	session, err := r.client.NewSession()
	if err != nil {
		return false, fmt.Errorf("remote: new session: %w", err)
	}
	defer session.Close()

	err = session.Run(fmt.Sprintf("kill -0 %d", pid))
	return err == nil, nil
}

func (r *sshRunner) signal(pid int, sig string) error {
	session, err := r.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run(fmt.Sprintf("kill -%s %d", sig, pid))
}

func (r *sshRunner) forget(name string) {
	r.mu.Lock()
	delete(r.pids, name)
	r.mu.Unlock()
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(strings.TrimPrefix(s, "/"))
}
