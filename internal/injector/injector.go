//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/datasync/internal/config"
	"github.com/zeusync/datasync/internal/node"
)

func InitializeNode(cfg *config.Config) (*node.Node, error) {
	wire.Build(NodeSet)
	return nil, nil
}
