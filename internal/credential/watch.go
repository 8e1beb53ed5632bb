package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever its key file is rewritten, for example by
// the keygen CLI. The parent directory is watched because atomic replacement
// swaps the file's inode. Watch returns once the watcher is running; it stops
// when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Info("watching api key file for changes", slog.String("path", s.path))

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("api key watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if err := s.Reload(); err != nil {
					s.logger.Error("failed to reload api keys",
						slog.String("error", err.Error()),
						slog.String("path", s.path))
					continue
				}
				s.logger.Info("api key file changed, reloaded", slog.String("path", s.path))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("api key watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}
