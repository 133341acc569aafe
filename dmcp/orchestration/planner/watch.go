package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RuleWatcher reloads a rules file into a DeterministicPlanner whenever it
// changes on disk. A file that fails to parse leaves the active rules in place.
type RuleWatcher struct {
	path    string
	target  *DeterministicPlanner
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// OnReload, when set, is called after every reload attempt.
	OnReload func(err error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewRuleWatcher watches path on behalf of target. The file is loaded once
// immediately so a broken file fails construction.
func NewRuleWatcher(path string, target *DeterministicPlanner, logger zerolog.Logger) (*RuleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}
	rules, err := LoadRulesFile(abs)
	if err != nil {
		return nil, err
	}
	target.SetRules(rules)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory and filter by name.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch rules directory: %w", err)
	}

	return &RuleWatcher{
		path:    abs,
		target:  target,
		watcher: w,
		logger:  logger.With().Str("component", "rule_watcher").Str("path", abs).Logger(),
		done:    make(chan struct{}),
	}, nil
}

// Run processes file events until ctx is done or Close is called.
func (w *RuleWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		}
	}
}

func (w *RuleWatcher) reload() {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		ruleReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Warn().Err(err).Msg("keeping previous planner rules")
	} else {
		w.target.SetRules(rules)
		ruleReloadsTotal.WithLabelValues("ok").Inc()
		w.logger.Info().Int("rules", len(rules.Rules)).Msg("planner rules reloaded")
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

// Close stops the watcher.
func (w *RuleWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
