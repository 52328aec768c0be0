//go:build !wireinject
// +build !wireinject

package di

// NewContainer builds the full object graph in dependency order. It
// mirrors the Wire provider sets so the manual and generated paths
// cannot drift apart.
func NewContainer() (*Container, error) {
	cfg, err := provideConfig()
	if err != nil {
		return nil, err
	}

	logger, err := provideLogger(cfg)
	if err != nil {
		return nil, err
	}

	metrics := provideCollector(cfg)

	tracer, err := provideTracer(cfg)
	if err != nil {
		return nil, err
	}

	cacheManager := provideCache(cfg, metrics, logger)
	breaker := provideBreaker(cfg, logger)
	executor := provideExecutor(cfg, breaker, metrics, logger)

	client, session, err := provideSupabase(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	controller := provideController(cacheManager, executor, metrics, tracer, logger)
	dispatcher := provideDispatcher(logger)
	eng := provideEngine(cacheManager, controller, executor, client, session, dispatcher, logger)
	listener := provideListener(cfg, cacheManager, session, metrics, logger)

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Cache:      cacheManager,
		Executor:   executor,
		Session:    session,
		Remote:     client,
		Controller: controller,
		Dispatcher: dispatcher,
		Engine:     eng,
		Listener:   listener,
	}, nil
}
