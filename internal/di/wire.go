//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"
)

// CoreSet provides configuration, logging, and telemetry.
var CoreSet = wire.NewSet(
	provideConfig,
	provideLogger,
	provideCollector,
	provideTracer,
)

// SyncSet provides the cache, retry engine, remote surface, and the
// mutation pipeline on top of them.
var SyncSet = wire.NewSet(
	provideCache,
	provideBreaker,
	provideExecutor,
	provideSupabase,
	provideController,
	provideDispatcher,
	provideEngine,
	provideListener,
)

// InitializeEngine is the Wire entry point; `wire` generates the
// implementation. The manual container in container.go stays the
// canonical path for builds without code generation.
func InitializeEngine() (*Container, error) {
	wire.Build(
		CoreSet,
		SyncSet,
		wire.Struct(new(Container), "*"),
	)
	return nil, nil
}
