/*
Package log provides structured logging for the storage subsystems.

Init configures the process-wide root logger (level, JSON or console
output) and optional per-component level overrides, so a single noisy
subsystem can be turned up to debug without flooding the rest. Component
derives a subsystem logger, and the Logger wrapper adds the fields the
storage core tags everywhere: block ids, cell hashes, shard idents and
package file paths.

	log.Init(log.Config{
		Level:           log.InfoLevel,
		ComponentLevels: map[string]log.Level{"gc": log.DebugLevel},
	})

	logger := log.Component("archive")
	logger.Block(id).Debug().Msg("moving entry to archive")
*/
package log
