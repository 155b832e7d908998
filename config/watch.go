package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader watches the config file and pushes validated analytics threshold
// changes to the engine. Only the analytics block is hot; everything else
// requires a restart.
type Reloader struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	log      *zap.Logger

	mu       sync.Mutex
	onChange func(AnalyticsConfig)

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReloader creates a watcher on the config file. Editors save in bursts of
// partial writes; the debounce window must elapse with no further events
// before the file is read, so only settled content reaches the engine.
func NewReloader(path string, debounce time.Duration, log *zap.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Reloader{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// OnChange registers the callback invoked with each validated analytics block.
func (r *Reloader) OnChange(fn func(AnalyticsConfig)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Start begins watching. Returns immediately; events are handled on a
// background goroutine until Stop or ctx cancellation.
func (r *Reloader) Start(ctx context.Context) error {
	if err := r.watcher.Add(r.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go r.watch(ctx)
	return nil
}

// Stop ends watching and waits briefly for the goroutine to exit.
func (r *Reloader) Stop() error {
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
	select {
	case <-r.doneChan:
	case <-time.After(1 * time.Second):
	}
	return r.watcher.Close()
}

func (r *Reloader) watch(ctx context.Context) {
	defer close(r.doneChan)

	// The timer arms on the first write event and resets on each subsequent
	// one; the reload runs only once the burst has gone quiet.
	settle := time.NewTimer(r.debounce)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(r.debounce)
			}
		case <-settle.C:
			r.handleChange()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) handleChange() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(r.path)
	if err != nil {
		r.log.Warn("config reload rejected", zap.Error(err))
		return
	}
	if err := ValidateAnalytics(cfg.Analytics); err != nil {
		r.log.Warn("config reload rejected", zap.Error(err))
		return
	}

	if r.onChange != nil {
		r.onChange(cfg.Analytics)
		r.log.Info("analytics thresholds reloaded",
			zap.Float64("vov_crash_z", cfg.Analytics.VoVCrashZScore),
			zap.Float64("high_ivp", cfg.Analytics.HighIVP),
			zap.Float64("low_ivp", cfg.Analytics.LowIVP))
	}
}
