package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/nevindra/rlm"
)

// Subprocess starts each session in its own local Python process.
// Implements rlm.Runtime.
type Subprocess struct {
	cfg config
}

var _ rlm.Runtime = (*Subprocess)(nil)

// NewSubprocess creates a runtime that runs the interpreter given by
// WithPython (python3 by default).
func NewSubprocess(opts ...Option) *Subprocess {
	return &Subprocess{cfg: buildConfig(opts)}
}

// Start launches an interpreter, binds c to `context` and query to
// `llm_query`. The process lives until the returned Sandbox is closed.
func (r *Subprocess) Start(ctx context.Context, c rlm.Context, query rlm.QueryFunc) (rlm.Sandbox, error) {
	// The process must outlive ctx, which only bounds startup.
	cmd := exec.Command(r.cfg.pythonBin, "-u", "-c", preludeSource)
	cmd.Dir = r.resolveWorkspace()
	cmd.Env = r.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	// Wait closes StdoutPipe readers early, so stdout goes through an io.Pipe
	// that is closed only after Wait has copied everything.
	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	stderr := &limitedBuffer{max: 64 * 1024}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start %s: %w", r.cfg.pythonBin, err)
	}
	r.cfg.logger.Debug("sandbox process started", "pid", cmd.Process.Pid, "python", r.cfg.pythonBin)

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		r.cfg.logger.Debug("sandbox process exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()

	return newSession(ctx, r.cfg, interpreter{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr.String,
		kill:   cmd.Process.Kill,
		exited: exited,
	}, c, query)
}

// resolveWorkspace returns the working directory for the subprocess.
func (r *Subprocess) resolveWorkspace() string {
	if r.cfg.workspace != "" {
		return r.cfg.workspace
	}
	return os.TempDir()
}

// buildEnv constructs the environment for the subprocess.
func (r *Subprocess) buildEnv() []string {
	var env []string
	if r.cfg.envPassthrough {
		env = os.Environ()
	} else {
		// Minimal environment for Python to work.
		env = []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + os.Getenv("HOME"),
			"LANG=en_US.UTF-8",
		}
	}
	env = append(env, "PYTHONIOENCODING=utf-8")
	for k, v := range r.cfg.envVars {
		env = append(env, k+"="+v)
	}
	return env
}
