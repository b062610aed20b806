package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/datasync/internal/config"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/node"
)

var NodeSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideNode,
)

// ProvideLogger creates the process-wide logger at the configured level.
func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(cfg.LogLevel())
}

func ProvideNode(cfg *config.Config, logger log.Log) (*node.Node, error) {
	return node.New(cfg, logger)
}
