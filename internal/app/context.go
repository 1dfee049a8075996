package app

import (
	"github.com/datallboy/rangedl/internal/infra/config"
	"github.com/datallboy/rangedl/internal/infra/logger"
	"github.com/datallboy/rangedl/internal/store"
	"github.com/datallboy/rangedl/internal/transport"
)

// Context holds the core environment and shared resources for rangedl.
// Commands build one and hand it to the services they run.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// Store is nil for one-shot commands that do not use the catalog.
	Store     store.Store
	Transport transport.Transport
}

// NewContext initializes the base environment. The transport is built from
// the configuration; the store is attached by commands that need it.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
		Transport: transport.NewClient(transport.Options{
			Timeout:      cfg.Transport.Timeout,
			MaxIdleConns: cfg.Transport.MaxIdleConns,
			UserAgent:    cfg.Download.UserAgent,
		}),
	}
}

// Close releases the resources owned by the context.
func (c *Context) Close() error {
	var err error
	if c.Store != nil {
		err = c.Store.Close()
	}
	if c.Logger != nil {
		c.Logger.Close()
	}
	return err
}
