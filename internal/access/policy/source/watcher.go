// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/file"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/pkg/errutil"
)

// Swapper installs a freshly loaded document. engine.Store satisfies it.
type Swapper interface {
	Swap(doc *policy.Document) bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithRetry sets how often and how quickly a failed reload is retried.
// Editors often write files in several steps, so the first read after a
// change event may see a partial document.
func WithRetry(attempts uint64, base time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.attempts = attempts
		w.base = base
	}
}

// WithOnReload registers a callback invoked after every successful reload.
func WithOnReload(fn func(doc *policy.Document, changed bool)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// Watcher reloads a policy file into a Swapper whenever it changes.
// A document that fails to load never replaces the current one.
type Watcher struct {
	path     string
	store    Swapper
	attempts uint64
	base     time.Duration
	onReload func(doc *policy.Document, changed bool)

	mu       sync.Mutex
	provider *file.File
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, store Swapper, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		store:    store,
		attempts: 3,
		base:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload loads the file once and swaps it in, retrying read and parse
// failures. On final failure the current document stays in place.
func (w *Watcher) Reload(ctx context.Context) error {
	backoff := retry.WithMaxRetries(w.attempts, retry.NewExponential(w.base))

	var doc *policy.Document
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		loaded, err := Load(w.path)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		doc = loaded
		return nil
	})
	if err != nil {
		reloadFailures.Inc()
		return oops.In("policy").With("path", w.path).Wrapf(err, "reload policy")
	}

	for _, warning := range doc.Validate() {
		slog.WarnContext(ctx, "policy warning", "path", w.path, "warning", warning)
	}

	changed := w.store.Swap(doc)
	if changed {
		slog.InfoContext(ctx, "policy reloaded", "path", w.path, "revision", doc.Revision())
	} else {
		slog.DebugContext(ctx, "policy unchanged", "path", w.path, "revision", doc.Revision())
	}
	if w.onReload != nil {
		w.onReload(doc, changed)
	}
	return nil
}

func retryable(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return true
	}
	switch oopsErr.Code() {
	case CodeRead, CodeParse:
		return true
	default:
		return false
	}
}

// Start begins watching the file. Change events trigger Reload until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.provider != nil {
		return oops.In("policy").Errorf("watcher already started")
	}

	provider := file.Provider(w.path)
	events := make(chan struct{}, 1)
	err := provider.Watch(func(_ any, err error) {
		if err != nil {
			slog.Warn("policy watch error", "path", w.path, "error", err)
			return
		}
		select {
		case events <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return oops.In("policy").Code(CodeRead).With("path", w.path).Wrapf(err, "watch policy")
	}

	w.provider = provider
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, events, w.stop, w.done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, events <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-events:
			if err := w.Reload(ctx); err != nil {
				errutil.LogError(slog.Default(), "policy reload failed, keeping previous document", err)
			}
		}
	}
}

// Stop stops watching and waits for any in-flight reload to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	provider, stop, done := w.provider, w.stop, w.done
	w.provider, w.stop, w.done = nil, nil, nil
	w.mu.Unlock()

	if provider == nil {
		return nil
	}
	err := provider.Unwatch()
	close(stop)
	<-done
	if err != nil {
		return oops.In("policy").With("path", w.path).Wrap(err)
	}
	return nil
}
