package fixtures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/zap"
)

type DockerOpt func(*Docker)

func NewDocker(opts ...DockerOpt) *Docker {
	f := &Docker{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func DockerNamePrefix(namePrefix string) DockerOpt {
	return func(f *Docker) {
		f.namePrefix = namePrefix
	}
}

func DockerNetworkName(networkName string) DockerOpt {
	return func(f *Docker) {
		f.networkName = networkName
	}
}

// Docker owns the dockertest pool and the network database containers join.
type Docker struct {
	BaseFixture
	log            *zap.Logger
	name           string
	namePrefix     string
	networkName    string
	networkExisted bool
	pool           *dockertest.Pool
	network        *dockertest.Network
}

func (f *Docker) GetNamePrefix() string {
	return f.namePrefix
}

func (f *Docker) GetPool() *dockertest.Pool {
	return f.pool
}

func (f *Docker) GetNetwork() *dockertest.Network {
	return f.network
}

func (f *Docker) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.namePrefix == "" {
		f.namePrefix = "fixtures"
	}
	f.name = f.namePrefix + "_" + namesgenerator.GetRandomName(0)
	if f.networkName == "" {
		f.networkName = f.name
	}

	var err error
	if f.pool, err = dockertest.NewPool(""); err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	if err := f.pool.Client.Ping(); err != nil {
		return fmt.Errorf("docker is not reachable: %w", err)
	}
	if f.network, err = f.getOrCreateNetwork(); err != nil {
		return err
	}
	f.log.Debug("docker network", zap.String("network", f.networkName), zap.Bool("existed", f.networkExisted))
	return nil
}

func (f *Docker) TearDown(context.Context) error {
	if f.network == nil || f.networkExisted {
		return nil
	}
	return f.network.Close()
}

func (f *Docker) getOrCreateNetwork() (*dockertest.Network, error) {
	ns, err := f.pool.Client.FilteredListNetworks(map[string]map[string]bool{
		"name": {f.networkName: true},
	})
	if err != nil {
		return nil, fmt.Errorf("error listing docker networks: %w", err)
	}
	if len(ns) == 1 {
		// An existing network has no pool reference, so it must never be closed by us.
		f.networkExisted = true
		return &dockertest.Network{Network: &ns[0]}, nil
	}
	nw, err := f.pool.CreateNetwork(f.networkName)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker network: %w", err)
	}
	return nw, nil
}

func GetHostIP(resource *dockertest.Resource, network *dockertest.Network) string {
	if n, ok := resource.Container.NetworkSettings.Networks[network.Network.Name]; ok {
		return n.IPAddress
	}
	return ""
}

func GetHostName(resource *dockertest.Resource) string {
	return resource.Container.Name[1:]
}

// GetContainerAddress returns the address tests use to reach the container: its network IP
// when we share its bridge network, the gateway when we run in a container outside of it,
// and localhost otherwise.
func GetContainerAddress(resource *dockertest.Resource, network *dockertest.Network) string {
	if UseBridgeNetwork(network) {
		return GetHostIP(resource, network)
	}
	if IsRunningInContainer() {
		if gw := resource.Container.NetworkSettings.Gateway; gw != "" {
			return gw
		}
		if nw, ok := resource.Container.NetworkSettings.Networks[network.Network.Name]; ok {
			return nw.Gateway
		}
	}
	return "localhost"
}

// GetContainerTcpPort returns the exposed port on a shared bridge network and the mapped port otherwise.
func GetContainerTcpPort(resource *dockertest.Resource, network *dockertest.Network, port string) string {
	if UseBridgeNetwork(network) {
		return port
	}
	return resource.GetPort(fmt.Sprintf("%s/tcp", port))
}

// UseBridgeNetwork reports whether the current host container is attached to network.
func UseBridgeNetwork(network *dockertest.Network) bool {
	hostname, err := os.Hostname()
	if err != nil {
		panic(fmt.Errorf("error retrieving hostname: %w", err))
	}
	for _, v := range network.Network.Containers {
		if v.Name == hostname {
			return true
		}
	}
	return false
}

// IsRunningInContainer checks for /.dockerenv, so it only detects docker.
func IsRunningInContainer() bool {
	_, err := os.Stat("/.dockerenv")
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrNotExist):
		return false
	default:
		panic(fmt.Errorf("error detecting if running inside container: %w", err))
	}
}

func getLogs(log *zap.Logger, containerID string, pool *dockertest.Pool) string {
	var buf bytes.Buffer
	err := pool.Client.Logs(docker.LogsOptions{
		Container:    containerID,
		OutputStream: &buf,
		ErrorStream:  &buf,
		Stdout:       true,
		Stderr:       true,
		Timestamps:   true,
	})
	if err != nil {
		log.Warn("failed to read logs", zap.Error(err))
	}
	return buf.String()
}

func purge(log *zap.Logger, p *dockertest.Pool, r *dockertest.Resource) {
	defer wg.Done()
	if err := p.Purge(r); err != nil {
		log.Warn("failed to purge container", zap.String("container", GetHostName(r)), zap.Error(err))
	}
}
