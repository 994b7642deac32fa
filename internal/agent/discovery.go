package agent

import (
	"context"
	"fmt"

	consul "github.com/hashicorp/consul/api"
)

// Consul tags distinguishing the controller's two registrations.
const (
	TagGRPC = "grpc"
	TagHTTP = "http"
)

type ServiceDiscovery struct {
	client  *consul.Client
	service string
}

func NewServiceDiscovery(consulAddr, service string) (*ServiceDiscovery, error) {
	config := consul.DefaultConfig()
	config.Address = consulAddr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &ServiceDiscovery{client: client, service: service}, nil
}

// Discover returns host:port of the first healthy controller instance carrying tag.
func (sd *ServiceDiscovery) Discover(ctx context.Context, tag string) (string, error) {
	q := (&consul.QueryOptions{}).WithContext(ctx)
	services, _, err := sd.client.Health().Service(sd.service, tag, true, q)
	if err != nil {
		return "", fmt.Errorf("query consul: %w", err)
	}

	if len(services) == 0 {
		return "", fmt.Errorf("no healthy %s instances tagged %q", sd.service, tag)
	}

	service := services[0]
	addr := service.Service.Address
	if addr == "" {
		addr = service.Node.Address
	}

	return fmt.Sprintf("%s:%d", addr, service.Service.Port), nil
}
