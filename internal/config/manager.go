package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tunables are the knobs that may change while the process is running.
// The research activation threshold is deliberately reloadable: it is a
// heuristic tuning detail, not a correctness contract.
type Tunables struct {
	ConfidenceFloor float64  `yaml:"confidence_floor"`
	TriggerPhrases  []string `yaml:"trigger_phrases"`
	ExcerptMaxChars int      `yaml:"excerpt_max_chars"`
}

// Manager watches a tunables file and atomically swaps the active snapshot
// on change. Readers call Current() and get an immutable value; the hot
// path never takes the write lock.
type Manager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Tunables

	handlers []func(Tunables)
	stopCh   chan struct{}
	started  bool
}

// NewManager seeds the manager from the static Config and, when path is
// non-empty, prepares a file watch for later Start.
func NewManager(path string, base *Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		current: Tunables{
			ConfidenceFloor: base.Research.ConfidenceFloor,
			TriggerPhrases:  base.Research.TriggerPhrases,
			ExcerptMaxChars: base.Retrieval.ExcerptMaxChars,
		},
	}
	if path == "" {
		return m, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create tunables watcher: %w", err)
	}
	m.watcher = w
	if err := m.loadFile(); err != nil {
		logger.Warn("Tunables file not loadable at startup, using config values",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return m, nil
}

// Current returns the active tunables snapshot.
func (m *Manager) Current() Tunables {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after every successful reload.
func (m *Manager) OnChange(fn func(Tunables)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Start begins watching the tunables file. No-op when no path was given.
func (m *Manager) Start() error {
	if m.watcher == nil {
		return nil
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.watcher.Add(m.path); err != nil {
		return fmt.Errorf("watch tunables file: %w", err)
	}
	go m.watchLoop()
	m.logger.Info("Tunables hot-reload started", zap.String("path", m.path))
	return nil
}

// Stop terminates the watch loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

func (m *Manager) watchLoop() {
	// Editors often emit bursts of events for a single save; debounce them.
	var pending <-chan time.Time
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = time.After(200 * time.Millisecond)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Tunables watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := m.loadFile(); err != nil {
				m.logger.Warn("Tunables reload failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

func (m *Manager) loadFile() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read tunables: %w", err)
	}
	var t Tunables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("decode tunables: %w", err)
	}

	m.mu.Lock()
	if t.ConfidenceFloor > 0 {
		m.current.ConfidenceFloor = t.ConfidenceFloor
	}
	if len(t.TriggerPhrases) > 0 {
		m.current.TriggerPhrases = t.TriggerPhrases
	}
	if t.ExcerptMaxChars > 0 {
		m.current.ExcerptMaxChars = t.ExcerptMaxChars
	}
	snapshot := m.current
	handlers := make([]func(Tunables), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(snapshot)
	}
	m.logger.Info("Tunables reloaded",
		zap.Float64("confidence_floor", snapshot.ConfidenceFloor),
		zap.Int("trigger_phrases", len(snapshot.TriggerPhrases)),
	)
	return nil
}
