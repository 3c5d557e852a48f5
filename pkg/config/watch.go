package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/entitle/pkg/observability"
)

// Watch reloads the config file whenever it changes and hands each valid
// result to onChange. It blocks until ctx is done. A file that fails to load
// is logged and skipped; the previous configuration stays in effect.
//
// The directory is watched rather than the file so that editors and
// Kubernetes ConfigMaps, which replace the file, keep triggering reloads.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	log := logger.WithField("config_file", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid config change")
				continue
			}
			log.Info("Config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}

// ApplyLogLevel returns an onChange callback that moves logger to the new level
func ApplyLogLevel(logger *observability.Logger) func(*Config) {
	return func(cfg *Config) {
		if logger.Level() != cfg.Observability.LogLevel {
			logger.WithFields(map[string]interface{}{
				"from": logger.Level().String(),
				"to":   cfg.Observability.LogLevel.String(),
			}).Info("Log level changed")
			logger.SetLevel(cfg.Observability.LogLevel)
		}
	}
}
