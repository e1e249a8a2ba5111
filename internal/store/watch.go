package store

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches config.json for out-of-band edits (an operator
// editing the file directly while the process runs) and reloads its
// configuration groups (monitor, restart, backoff, observability, ui) into
// the in-memory store. The selection sets and custom probes in the file are
// not reloaded. A reload that fails validation is logged and ignored,
// leaving the previous configuration in force. Runs until ctx is canceled.
func (s *Store) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(s.dataDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != configFileName {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadConfigFromDisk()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("store: config watch error", "error", err)
			}
		}
	}()

	return nil
}

func (s *Store) reloadConfigFromDisk() {
	var doc configDocument
	readJSONBestEffort(s.path(configFileName), &doc)

	cfg := Config{
		Monitor:       doc.Monitor,
		Restart:       doc.Restart,
		Backoff:       doc.Backoff,
		Observability: doc.Observability,
		UI:            doc.UI,
	}

	if s.validate != nil {
		if _, err := s.validate(cfg); err != nil {
			slog.Warn("store: reloaded config.json failed validation, keeping previous configuration", "error", err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.config {
		// The store's own persistConfigLocked writes also land here via
		// fsnotify; an unchanged document is not a reload worth acting on.
		return
	}
	s.config = cfg
	slog.Info("store: reloaded configuration from disk")
}
