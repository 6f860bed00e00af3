package workerpool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// WorkerModeEnv is set in a spawned child's environment to signal that it
// should enter worker mode instead of running its normal entrypoint. The
// root package's IsWorkerProcess checks for it.
const WorkerModeEnv = "DURAQ_WORKER_MODE"

// ReExecSpawner spawns worker children by re-executing the currently
// running binary with WorkerModeEnv set. This is the language-neutral
// stand-in for forking a child from a known entry script: since the child
// is the same compiled binary, every handler registered via the root
// package's processor registry is already present in it, with no
// source-as-text shipped over IPC.
type ReExecSpawner struct {
	// Path overrides the executable to spawn; defaults to os.Executable().
	// Exposed for tests.
	Path string

	// ExtraEnv is appended to the child's environment, mainly for tests
	// that need to pass through a coverage or test binary marker.
	ExtraEnv []string
}

// Spawn starts a new child process in worker mode.
func (s *ReExecSpawner) Spawn(ctx context.Context) (Child, error) {
	path := s.Path
	if path == "" {
		resolved, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("workerpool: resolving executable: %w", err)
		}
		path = resolved
	}

	cmd := exec.CommandContext(ctx, path, os.Args[1:]...)
	cmd.Env = append(append([]string{}, os.Environ()...), WorkerModeEnv+"=1")
	cmd.Env = append(cmd.Env, s.ExtraEnv...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: opening stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workerpool: starting worker process: %w", err)
	}

	return &cmdChild{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type cmdChild struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (c *cmdChild) Stdin() io.WriteCloser  { return c.stdin }
func (c *cmdChild) Stdout() io.ReadCloser  { return c.stdout }
func (c *cmdChild) Wait() error            { return c.cmd.Wait() }

func (c *cmdChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}
