// Package docker provisions sandboxes as local containers running the agent
// image. Each sandbox is one container on the default network; commands and
// files go through the agent's HTTP surface at the container IP.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/mehular0ra/forge/internal/config"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/sandbox"
	"github.com/mehular0ra/forge/internal/sandbox/agent"
	"github.com/mehular0ra/forge/internal/util"
)

type Provisioner struct {
	docker  *client.Client
	cfg     *config.SandboxConfig
	seccomp string
}

func NewProvisioner(cfg *config.SandboxConfig) (*Provisioner, error) {
	dc, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialise docker")
	}

	var seccomp string
	if cfg.SECCOMP_PROFILE != "" {
		profile, err := util.LoadSeccomp(cfg.SECCOMP_PROFILE)
		if err != nil {
			return nil, fmt.Errorf("loading seccomp profile: %w", err)
		}
		raw, err := json.Marshal(profile)
		if err != nil {
			return nil, err
		}
		seccomp = string(raw)
	}

	return &Provisioner{docker: dc, cfg: cfg, seccomp: seccomp}, nil
}

func (p *Provisioner) Create(ctx context.Context, template string) (sandbox.Sandbox, error) {
	image := p.cfg.IMAGE
	if template != "" {
		image = template
	}

	pl := int64(256)
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(network.NetworkDefault),
		Resources: container.Resources{
			CPUPeriod: 100000,
			CPUQuota:  p.cfg.CPU_QUOTA,
			Memory:    p.cfg.MEMORY_LIMIT,
			PidsLimit: &pl,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,nosuid,mode=0777,size=67108864",
		},
	}
	if p.seccomp != "" {
		hostCfg.SecurityOpt = []string{"seccomp=" + p.seccomp}
	}

	cfg := &container.Config{
		Image:  image,
		Labels: map[string]string{"forge.sandbox": "true"},
	}

	name := "forge-sandbox-" + uuid.NewString()[:8]
	created, err := p.docker.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: &network.NetworkingConfig{},
		Name:             name,
	})
	if err != nil {
		return nil, err
	}

	if _, err := p.docker.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		_, _ = p.docker.ContainerRemove(ctx, created.ID, client.ContainerRemoveOptions{Force: true})
		return nil, err
	}

	ip, err := p.containerIP(ctx, created.ID)
	if err != nil {
		p.remove(ctx, created.ID)
		return nil, err
	}

	sbx := &dockerSandbox{
		Client:      agent.NewClient(fmt.Sprintf("http://%s:%d", ip, p.cfg.AGENT_PORT)),
		id:          created.ID,
		ip:          ip,
		provisioner: p,
	}

	if err := sbx.waitReady(ctx); err != nil {
		p.remove(ctx, created.ID)
		return nil, err
	}
	return sbx, nil
}

func (p *Provisioner) containerIP(ctx context.Context, id string) (string, error) {
	inspect, err := p.docker.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		return "", err
	}

	for _, endpoint := range inspect.Container.NetworkSettings.Networks {
		return endpoint.IPAddress.String(), nil
	}
	return "", fmt.Errorf("container %s has no network endpoint", id)
}

func (p *Provisioner) remove(ctx context.Context, id string) {
	timeout := 0
	if _, err := p.docker.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout}); err != nil {
		logger.Log.Warn().Err(err).Str("container", id).Msg("failed to stop sandbox container")
	}
	if _, err := p.docker.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true}); err != nil {
		logger.Log.Warn().Err(err).Str("container", id).Msg("failed to remove sandbox container")
	}
}

type dockerSandbox struct {
	*agent.Client
	id          string
	ip          string
	provisioner *Provisioner
}

func (s *dockerSandbox) ID() string { return s.id }

func (s *dockerSandbox) Host(port int) (string, error) {
	return fmt.Sprintf("%s:%d", s.ip, port), nil
}

func (s *dockerSandbox) Destroy(ctx context.Context) error {
	s.provisioner.remove(ctx, s.id)
	return nil
}

// waitReady polls the agent until it answers, bounded by a short deadline.
// Containers are usually up within a second; the bound covers slow pulls of
// warm images only.
func (s *dockerSandbox) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(15 * time.Second)
	for {
		if _, err := s.ListProcesses(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sandbox agent did not become ready")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
