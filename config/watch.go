package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ramory-l/gopusher/log"
)

// Watch reloads the file at path whenever it changes and hands the new
// configuration to onChange. Invalid files are logged and skipped. Watching
// stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	logger := log.WithComponent("config")
	logger.Info().Str("path", path).Msg("Watching config file for changes")

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}

				// editors replace files atomically; wait for the new one
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(path); os.IsNotExist(err) {
						logger.Warn().Str("path", path).Msg("Config file removed, skipping reload")
						continue
					}
					if err := watcher.Add(path); err != nil {
						logger.Warn().Err(err).Msg("Failed to re-watch config file")
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}

				cfg, err := Load(path)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to reload configuration")
					continue
				}
				logger.Info().Msg("Configuration reloaded")
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return nil
}
