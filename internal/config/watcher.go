package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Watcher hot-reloads a YAML config file (spec §9 supplemented feature:
// "a policy/weight/threshold change in the config surface takes effect
// without a process restart"). Grounded on the teacher's
// internal/config ConfigWatcher: an fsnotify.Watcher feeding a single
// handler goroutine, an RWMutex-guarded live value, and a reload on every
// Write or Create event for the file; there is no debounce, so an editor
// save that writes several times reloads several times.
type Watcher struct {
	mu   sync.RWMutex
	cfg  Config
	path string

	fsw      *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	onChange func(Config)
}

// NewWatcher loads path once and begins watching the file itself for
// writes. onChange, if non-nil, is invoked with the new config after
// every successful reload.
func NewWatcher(path string, onChange func(Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		cfg:      cfg,
		path:     path,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		onChange: onChange,
	}
	go w.run()
	return w, nil
}

// Current returns the live configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("config: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config: reload failed, keeping prior config")
		return
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	log.Info().Str("path", w.path).Msg("config: reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop tears the watcher down.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
	<-w.done
}

// marshalForTest is used only by tests to round-trip a Config through
// YAML without touching the filesystem.
func marshalForTest(cfg Config) ([]byte, error) { return yaml.Marshal(cfg) }
