package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	// refillRetry is the pause after a failed container create.
	refillRetry = time.Second
	// refillPoll is how often a full pool checks for a free slot.
	refillPoll = 100 * time.Millisecond
)

// Pool keeps up to Config.PoolSize idle sandboxes of one image ready.
// Sandboxes are single-use; the executor removes each after its run and
// the refill loop replaces it.
type Pool struct {
	cli    *client.Client
	image  string
	config Config
	logger *slog.Logger

	ready chan string
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool creates an idle pool for image. Call Start to begin warming.
func NewPool(cli *client.Client, image string, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:    cli,
		image:  image,
		config: cfg,
		logger: logger.With(slog.String("image", image)),
		ready:  make(chan string, cfg.PoolSize),
		quit:   make(chan struct{}),
	}
}

// Start launches the refill loop. Further calls are no-ops.
func (p *Pool) Start() {
	p.once.Do(func() {
		p.logger.Info("warming sandbox pool", slog.Int("size", p.config.PoolSize))
		p.wg.Add(1)
		go p.refill()
	})
}

// Stop ends the refill loop and removes every idle sandbox.
func (p *Pool) Stop() {
	p.logger.Info("stopping sandbox pool")
	close(p.quit)
	p.wg.Wait()

	for {
		select {
		case id := <-p.ready:
			p.remove(id)
		default:
			return
		}
	}
}

// Acquire takes an idle sandbox, waiting until one is warm or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refill tops the pool up until Stop.
func (p *Pool) refill() {
	defer p.wg.Done()

	for {
		wait := refillPoll
		if len(p.ready) < cap(p.ready) {
			id, err := p.create()
			if err == nil {
				select {
				case p.ready <- id:
					continue
				case <-p.quit:
					p.remove(id)
					return
				}
			}
			p.logger.Error("creating sandbox", slog.String("error", err.Error()))
			wait = refillRetry
		}

		select {
		case <-p.quit:
			return
		case <-time.After(wait):
		}
	}
}

// create starts a locked-down container idling on `sleep infinity`;
// programs run inside it through exec.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=16m"},
	}
	spec := &container.Config{
		Image: p.image,
		Cmd:   []string{"sleep", "infinity"},
		User:  "nobody",
	}

	resp, err := p.cli.ContainerCreate(ctx, spec, host, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: create %s: %w", p.image, err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("docker: start %s: %w", p.image, err)
	}
	return resp.ID, nil
}

// remove force-deletes a sandbox, ignoring errors.
func (p *Pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
