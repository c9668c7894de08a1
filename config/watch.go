// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it is written or replaced and passes the
// result to fn, until ctx is done. The parent directory is watched so that
// editors that rename over the file are seen. Load errors are passed to fn
// too; the caller decides whether to keep the previous Config.
func Watch(ctx context.Context, path string, fn func(Config, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fn(Load(target))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fn(Config{}, err)
			}
		}
	}()
	return nil
}
