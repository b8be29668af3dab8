package bus

import (
	"context"
	"fmt"

	"hotkeyd/internal/config"
)

// Publisher delivers a notification identifier. Implementations never block.
type Publisher interface {
	Publish(id string)
}

// Transport is a started bus endpoint: the in-process Hub or a Client.
type Transport interface {
	Publisher
	Start(ctx context.Context) error
	Stop() error
}

var (
	_ Transport = (*Hub)(nil)
	_ Transport = (*Client)(nil)
)

// New builds the transport selected by cfg.Mode.
func New(cfg config.BusConfig) (Transport, error) {
	switch cfg.Mode {
	case config.BusModeHub, "":
		return NewHub(HubOptions{Addr: cfg.Addr, Path: cfg.Path}), nil
	case config.BusModeClient:
		return NewClient(ClientOptions{URL: cfg.URL}), nil
	default:
		return nil, fmt.Errorf("bus: unknown mode %q", cfg.Mode)
	}
}
