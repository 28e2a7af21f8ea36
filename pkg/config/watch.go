package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDelay debounces bursts of file events into one callback.
const watchDelay = 500 * time.Millisecond

// WatchDefinitions calls onChange after definition files under sources are
// written, created, removed or renamed. Directories are watched recursively.
// It returns once the watcher is running; watching stops when ctx is
// cancelled. onChange is never called concurrently with itself.
func WatchDefinitions(ctx context.Context, logger zerolog.Logger, sources []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, source := range sources {
		if err := addWatch(watcher, source); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	logger = logger.With().Str("component", "definition-watcher").Logger()
	logger.Info().Strs("sources", sources).Msg("Watching definitions")

	go func() {
		defer watcher.Close()

		fire := make(chan struct{}, 1)
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case <-fire:
				onChange()

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = addWatch(watcher, event.Name)
					}
				}
				if !definitionExtensions[strings.ToLower(filepath.Ext(event.Name))] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Definition file changed")

				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDelay, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	return nil
}

func addWatch(watcher *fsnotify.Watcher, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", source, err)
	}

	if !info.IsDir() {
		// Editors replace files, so watch the parent directory.
		return watcher.Add(filepath.Dir(source))
	}

	return filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
