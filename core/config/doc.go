// Package config loads Config structs from the environment.
//
// Fields are described with caarlos0/env tags. The first Load in a process
// reads a .env file from the working directory if one exists; variables that
// are already set are not overridden. Each struct type is parsed once and
// cached, so every later Load of the same type returns the same values even
// if the environment changed in between.
//
//	var cfg command.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	bus := command.NewMemoryBusFromConfig[SendInvoice](cfg)
//
// MustLoad panics instead of returning the error and is meant for process
// startup:
//
//	var rcfg redis.Config
//	config.MustLoad(&rcfg)
//	client, err := redis.Connect(ctx, rcfg)
//
// Config types shipped with this module: command.Config,
// circuitbreaker.Config, worker.Config, redis.Config, pg.Config and
// kafka.Config.
package config
