// Package transport resolves the configured pub/sub system into a transport
// for the bus connection.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/protobus/internal/runtime/config"
	bustransport "github.com/drblury/protobus/transport"

	// Register the built-in transports.
	_ "github.com/drblury/protobus/transport/transports"
)

// Factory abstracts how protobus initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error)
	Capabilities(system string) bustransport.Capabilities
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return RegistryFactory(bustransport.DefaultRegistry)
}

// RegistryFactory returns a factory that resolves transports from reg.
func RegistryFactory(reg *bustransport.Registry) Factory {
	return registryFactory{reg: reg}
}

type registryFactory struct {
	reg *bustransport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error) {
	if conf == nil {
		return bustransport.Transport{}, errors.New("config is required")
	}
	t, err := f.reg.Build(ctx, conf, logger)
	if err != nil {
		return bustransport.Transport{}, err
	}
	if t.Publisher == nil || t.Subscriber == nil {
		return bustransport.Transport{}, errors.New("transport " + conf.GetPubSubSystem() + " returned no publisher or subscriber")
	}
	return t, nil
}

func (f registryFactory) Capabilities(system string) bustransport.Capabilities {
	caps := f.reg.GetCapabilities(system)
	if caps == (bustransport.Capabilities{Name: system}) {
		return bustransport.GetCapabilities(system)
	}
	return caps
}
