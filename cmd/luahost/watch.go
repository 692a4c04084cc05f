// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aplane-algo/luahost/internal/structured"
	"github.com/aplane-algo/luahost/internal/util"
)

const debounceDelay = 500 * time.Millisecond

// watchFile calls onChange, debounced, whenever path is created, written
// or replaced, until ctx ends. The directory is watched so that editors
// that save by rename are seen.
func watchFile(ctx context.Context, path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, onChange)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			util.Logger.Warn("file watcher error", "error", err)
		}
	}
}

// watchScript runs path now and again after every change until interrupted.
// A run still in progress when the file changes is left to finish.
func (h *host) watchScript(ctx context.Context, path string) int {
	run := func() {
		h.manager.RunScriptFile(path, func(count int, result structured.Value) {
			h.printResult(count, result)
		}, nil)
	}
	run()
	h.output.Println(fmt.Sprintf("watching %s (Ctrl+C to stop)", path))
	if err := watchFile(ctx, path, run); err != nil {
		h.output.Errorln("Error: " + err.Error())
		return 1
	}
	return 0
}
