package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	containertypes "github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
	reconnectMaxDelay   = 30 * time.Second
)

// DockerAdapter talks to the local Docker Engine over its UNIX socket (or
// whatever DOCKER_HOST points at). It is the only place any moby/moby type
// is allowed to appear outside this package.
type DockerAdapter struct {
	host string

	mu  sync.Mutex
	cli *client.Client
}

// NewDockerAdapter builds an adapter bound to host. An empty host lets the
// client library apply its own DOCKER_HOST/default-socket resolution.
func NewDockerAdapter(host string) *DockerAdapter {
	return &DockerAdapter{host: host}
}

func (a *DockerAdapter) client() (*client.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cli != nil {
		return a.cli, nil
	}

	opts := []client.Opt{client.WithAPIVersionFromEnv()}
	if a.host != "" {
		opts = append(opts, client.WithHost(a.host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	a.cli = cli
	return cli, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	default:
		return fmt.Errorf("%w: %w", ErrOther, err)
	}
}

func toSnapshot(full containertypes.InspectResponse) Snapshot {
	labels := map[string]string{}
	if full.Config != nil {
		labels = full.Config.Labels
	}

	snap := Snapshot{
		ID:      full.ID,
		ShortID: shortID(full.ID),
		Name:    strings.TrimPrefix(full.Name, "/"),
		Labels:  labels,
		Status:  Status(strings.ToLower(stateString(full.State))),
		Health:  HealthNone,
	}

	if p, ok := labels[composeProjectLabel]; ok {
		snap.ComposeProj = p
	}
	if s, ok := labels[composeServiceLabel]; ok {
		snap.ComposeSvc = s
	}

	if full.State != nil {
		snap.ExitCode = full.State.ExitCode
		if full.State.Health != nil && full.State.Health.Status != "" {
			snap.Health = Health(strings.ToLower(string(full.State.Health.Status)))
		}
		if t, err := time.Parse(time.RFC3339Nano, full.State.StartedAt); err == nil {
			snap.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, full.State.FinishedAt); err == nil {
			snap.FinishedAt = t
		}
	}

	if full.HostConfig != nil {
		snap.RestartPolicy = string(full.HostConfig.RestartPolicy.Name)
		snap.MaxRetry = full.HostConfig.RestartPolicy.MaximumRetryCount
	}

	return snap
}

func stateString(s *containertypes.State) string {
	if s == nil {
		return string(StatusExited)
	}
	switch {
	case s.Restarting:
		return string(StatusRestarting)
	case s.Paused:
		return string(StatusPaused)
	case s.Running:
		return string(StatusRunning)
	case s.Dead:
		return string(StatusDead)
	case s.Status != "":
		return s.Status
	default:
		return string(StatusExited)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (a *DockerAdapter) List(ctx context.Context, includeStopped bool) ([]Snapshot, error) {
	cli, err := a.client()
	if err != nil {
		return nil, err
	}

	resp, err := cli.ContainerList(ctx, client.ContainerListOptions{All: includeStopped})
	if err != nil {
		return nil, classify(err)
	}

	snapshots := make([]Snapshot, 0, len(resp.Items))
	for _, summary := range resp.Items {
		full, err := cli.ContainerInspect(ctx, summary.ID)
		if err != nil {
			continue // transient disappearance between list and inspect; next tick reconciles
		}
		snapshots = append(snapshots, toSnapshot(full))
	}

	return snapshots, nil
}

func (a *DockerAdapter) Inspect(ctx context.Context, idOrName string) (Snapshot, error) {
	cli, err := a.client()
	if err != nil {
		return Snapshot{}, err
	}

	full, err := cli.ContainerInspect(ctx, idOrName)
	if err != nil {
		return Snapshot{}, classify(err)
	}

	return toSnapshot(full), nil
}

func (a *DockerAdapter) Restart(ctx context.Context, longID string, timeout time.Duration) error {
	cli, err := a.client()
	if err != nil {
		return err
	}

	secs := int(timeout.Seconds())
	if err := cli.ContainerRestart(ctx, longID, containertypes.StopOptions{Timeout: &secs}); err != nil {
		return classify(err)
	}
	return nil
}

func (a *DockerAdapter) ProbeHTTP(ctx context.Context, url string, expectedStatus int, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOther, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrOther, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		return fmt.Errorf("%w: got status %d, want %d", ErrOther, resp.StatusCode, expectedStatus)
	}
	return nil
}

func (a *DockerAdapter) ProbeTCP(ctx context.Context, hostPort string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrOther, err)
	}
	_ = conn.Close()
	return nil
}

func (a *DockerAdapter) ProbeExec(ctx context.Context, longID string, argv []string, expectedCode int, timeout time.Duration) error {
	cli, err := a.client()
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := cli.ContainerExecCreate(execCtx, longID, containertypes.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return classify(err)
	}

	attach, err := cli.ContainerExecAttach(execCtx, created.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return classify(err)
	}
	defer attach.Close()

	reader := bufio.NewReader(attach.Reader)
	_, _ = io.Copy(io.Discard, reader)

	inspect, err := cli.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return classify(err)
	}

	if inspect.ExitCode != expectedCode {
		return fmt.Errorf("%w: exec exit code %d, want %d", ErrOther, inspect.ExitCode, expectedCode)
	}
	return nil
}

// Events streams every runtime event on its own goroutine, reconnecting
// with capped exponential backoff when the stream breaks. The output
// channel is bounded; an event that finds it full is dropped.
// The core only acts on type=container action=start; everything else is
// forwarded so callers may log it but are never required to.
func (a *DockerAdapter) Events(ctx context.Context) (<-chan RuntimeEvent, <-chan error) {
	out := make(chan RuntimeEvent, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		delay := time.Second
		for {
			if ctx.Err() != nil {
				return
			}

			cli, err := a.client()
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				if !sleepOrDone(ctx, delay) {
					return
				}
				delay = nextDelay(delay)
				continue
			}

			msgs, cliErrs := cli.Events(ctx, client.EventsListOptions{})
			delay = time.Second

		drain:
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-cliErrs:
					if err != nil {
						select {
						case errs <- classify(err):
						default:
						}
					}
					break drain
				case msg, ok := <-msgs:
					if !ok {
						break drain
					}
					select {
					case out <- RuntimeEvent{
						Type:      string(msg.Type),
						Action:    string(msg.Action),
						ID:        msg.Actor.ID,
						Labels:    msg.Actor.Attributes,
						Timestamp: time.Unix(0, msg.TimeNano),
					}:
					default:
						// Queue full: drop the event; the next scheduler tick reconciles.
					}
				}
			}

			if !sleepOrDone(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
		}
	}()

	return out, errs
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	next := d * 2
	if next > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return next
}
