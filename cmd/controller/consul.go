package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	consul "github.com/hashicorp/consul/api"
	"github.com/metorial/beacon/internal/agent"
	"github.com/metorial/beacon/internal/config"
	"go.uber.org/zap"
)

// registration announces the gRPC and HTTP listeners as two instances of one Consul
// service, told apart by tag.
type registration struct {
	client   *consul.Client
	services []*consul.AgentServiceRegistration
	logger   *zap.Logger
}

func newRegistration(cfg *config.Config, logger *zap.Logger) (*registration, error) {
	conf := consul.DefaultConfig()
	conf.Address = cfg.Consul.Address
	client, err := consul.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	nodeIP := os.Getenv("NOMAD_IP_grpc")
	if nodeIP == "" {
		nodeIP = getLocalIP()
	}

	r := &registration{client: client, logger: logger.Named("consul")}
	name := cfg.Consul.ServiceName

	if port, ok := listenPort(cfg.Server.GRPCAddr); ok {
		r.services = append(r.services, &consul.AgentServiceRegistration{
			ID:      name + "-grpc",
			Name:    name,
			Port:    port,
			Address: nodeIP,
			Check: &consul.AgentServiceCheck{
				GRPC:                           fmt.Sprintf("%s:%d", nodeIP, port),
				Interval:                       "10s",
				Timeout:                        "5s",
				DeregisterCriticalServiceAfter: "30s",
			},
			Tags: []string{"beacon", agent.TagGRPC},
		})
	}

	if port, ok := listenPort(cfg.Server.HTTPAddr); ok {
		r.services = append(r.services, &consul.AgentServiceRegistration{
			ID:      name + "-http",
			Name:    name,
			Port:    port,
			Address: nodeIP,
			Check: &consul.AgentServiceCheck{
				HTTP:                           fmt.Sprintf("http://%s:%d/api/v1/health", nodeIP, port),
				Interval:                       "10s",
				Timeout:                        "5s",
				DeregisterCriticalServiceAfter: "30s",
			},
			Tags: []string{"beacon", agent.TagHTTP, "api"},
		})
	}

	return r, nil
}

func (r *registration) register() error {
	for _, s := range r.services {
		if err := r.client.Agent().ServiceRegister(s); err != nil {
			return fmt.Errorf("register %s: %w", s.ID, err)
		}
		r.logger.Info("registered service", zap.String("id", s.ID), zap.Int("port", s.Port))
	}
	return nil
}

func (r *registration) deregister() {
	for _, s := range r.services {
		if err := r.client.Agent().ServiceDeregister(s.ID); err != nil {
			r.logger.Warn("deregister failed", zap.String("id", s.ID), zap.Error(err))
		}
	}
}

func listenPort(addr string) (int, bool) {
	if addr == "" {
		return 0, false
	}
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(p)
	return port, err == nil && port > 0
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
