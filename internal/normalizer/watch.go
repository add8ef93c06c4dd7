package normalizer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the rule file whenever it changes, until ctx is done.
// A file that fails to parse is logged and the previous rules stay active.
func (n *Normalizer) Watch(ctx context.Context, path string, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "normalizer").Str("rules", path).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}

	// Watch the directory: editors replace files by rename.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				n.reload(target, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("rules watcher error")
			}
		}
	}()

	return nil
}

func (n *Normalizer) reload(path string, logger zerolog.Logger) {
	rules, err := LoadRules(path)
	if err != nil {
		logger.Warn().Err(err).Msg("keeping previous normalizer rules")
		return
	}
	n.SetRules(rules)
	logger.Info().Msg("normalizer rules reloaded")
}
