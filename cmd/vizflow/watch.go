// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// debounceDelay waits for the writes of an editor to settle before reporting a change.
const debounceDelay = 250 * time.Millisecond

// WatchConfig sends on the returned channel every time the file at path is written or re-created,
// until ctx is done. Bursts of events within debounceDelay are reported once.
//
// The directory of the file is watched, since editors often replace the file instead of writing to it.
func WatchConfig(ctx context.Context, path string) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating configuration watcher")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watching %q", path)
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watching %q", path)
	}

	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	go func() {
		defer w.Close()
		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != absPath || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				klog.V(2).Infof("configuration event %s", ev)
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, notify)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				klog.Errorf("configuration watcher failed: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, nil
}
