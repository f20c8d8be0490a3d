package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nevindra/rlm"
)

// Docker starts each session in a fresh container with networking disabled.
// The container is removed when the session closes. Implements rlm.Runtime.
type Docker struct {
	cli containerAPI
	cfg config
}

var _ rlm.Runtime = (*Docker)(nil)

// containerAPI is the subset of the Docker client the runtime uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, networking *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, id string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, id string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error
	Close() error
}

// NewDocker connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends).
func NewDocker(opts ...Option) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &Docker{cli: cli, cfg: buildConfig(opts)}, nil
}

// Close releases the connection to the Docker daemon. Running sessions are
// not affected.
func (r *Docker) Close() error {
	return r.cli.Close()
}

// Start creates and attaches to a container running the interpreter, then
// binds c to `context` and query to `llm_query`.
func (r *Docker) Start(ctx context.Context, c rlm.Context, query rlm.QueryFunc) (rlm.Sandbox, error) {
	cfg := &container.Config{
		Image:           r.cfg.image,
		Cmd:             []string{"python3", "-u", "-c", preludeSource},
		Env:             r.env(),
		WorkingDir:      "/tmp",
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Labels:          map[string]string{"rlm.sandbox": "true"},
	}
	host := &container.HostConfig{
		AutoRemove:  true,
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   r.cfg.memory,
			NanoCPUs: r.cfg.nanoCPUs,
		},
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	id := created.ID
	remove := func() error {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}

	hijack, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		remove()
		return nil, fmt.Errorf("sandbox: attach container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		hijack.Close()
		remove()
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}
	r.cfg.logger.Debug("sandbox container started", "id", shortID(id), "image", r.cfg.image)

	// The attach stream multiplexes stdout and stderr.
	stdout, stdoutW := io.Pipe()
	stderr := &limitedBuffer{max: 64 * 1024}
	exited := make(chan struct{})
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderr, hijack.Reader)
		stdoutW.CloseWithError(err)
		hijack.Close()
		r.cfg.logger.Debug("sandbox container stream closed", "id", shortID(id), "error", err)
		close(exited)
	}()

	return newSession(ctx, r.cfg, interpreter{
		stdin:  hijackStdin{hijack},
		stdout: stdout,
		stderr: stderr.String,
		kill:   remove,
		exited: exited,
	}, c, query)
}

func (r *Docker) env() []string {
	env := []string{"PYTHONIOENCODING=utf-8"}
	for k, v := range r.cfg.envVars {
		env = append(env, k+"="+v)
	}
	return env
}

// hijackStdin writes to the attached stdin; Close half-closes the connection
// so the interpreter sees EOF.
type hijackStdin struct {
	resp types.HijackedResponse
}

func (h hijackStdin) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }
func (h hijackStdin) Close() error                { return h.resp.CloseWrite() }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
