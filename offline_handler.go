package flagkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
)

// ErrInvalidBootstrap is returned for files that do not hold a payload with values.
var ErrInvalidBootstrap = errors.New("flagkit: bootstrap file has no values")

// ReadBootstrapFromFile reads a download_config_specs or initialize payload from a file path.
func ReadBootstrapFromFile(name string) (string, error) {
	file, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	raw := string(file)
	if !specs.HasUpdates(raw) {
		return "", fmt.Errorf("%w: %s", ErrInvalidBootstrap, name)
	}
	return raw, nil
}

// WatchBootstrapFile applies the payload at path now and again every time the file changes,
// until ctx is done. Values from the file still follow the usual freshness rules.
func (c *Client) WatchBootstrapFile(ctx context.Context, path string) error {
	if err := c.loadBootstrapFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace files, so the directory is watched rather than the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	log := c.log.With("worker", "bootstrap_watcher", "path", path)
	target := filepath.Clean(path)
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
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.loadBootstrapFile(path); err != nil {
					log.Warn("failed to reload bootstrap file", "error", err)
					continue
				}
				log.Debug("reloaded bootstrap file")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("watch error", "error", err)
			}
		}
	}()
	return nil
}

func (c *Client) loadBootstrapFile(path string) error {
	raw, err := ReadBootstrapFromFile(path)
	if err != nil {
		return err
	}
	return c.SetBootstrapData(raw)
}
