package edge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/synapse-agents/synapse/core"
	"github.com/synapse-agents/synapse/logging"
)

// Duration parses YAML values like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("edge: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ScheduleEntry is one recurring publication.
type ScheduleEntry struct {
	Interval Duration `yaml:"interval"`
	Keyword  string   `yaml:"keyword"`
	// Prompt may contain the {{timestamp}} placeholder, expanded at each
	// tick.
	Prompt string `yaml:"prompt"`
}

type scheduleFile struct {
	Schedule []ScheduleEntry `yaml:"schedule"`
}

// LoadSchedule reads schedule entries from a YAML file.
func LoadSchedule(path string) ([]ScheduleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("edge: read schedule: %w", err)
	}
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("edge: parse schedule: %w", err)
	}
	for i, e := range f.Schedule {
		if e.Interval <= 0 {
			return nil, fmt.Errorf("edge: schedule entry %d: interval must be positive", i)
		}
		if e.Keyword == "" {
			return nil, fmt.Errorf("edge: schedule entry %d: keyword required", i)
		}
	}
	return f.Schedule, nil
}

// TimerOptions configures a Timer.
type TimerOptions struct {
	// ConfigPath, when set, is watched for changes and the schedule is
	// reloaded in place.
	ConfigPath string
	Logger     logging.Logger
}

// Timer publishes scheduled prompts onto the bus under a fixed source id.
// The schedule can be replaced at runtime, either programmatically or by
// editing the watched config file.
type Timer struct {
	pub      core.Publisher
	sourceID string
	cfgPath  string
	logger   logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries []ScheduleEntry
	reload  chan struct{}
}

// NewTimer constructs a timer publishing as sourceID.
func NewTimer(pub core.Publisher, sourceID string, entries []ScheduleEntry, optFns ...func(o *TimerOptions)) *Timer {
	opts := TimerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Timer{
		pub:      pub,
		sourceID: sourceID,
		cfgPath:  opts.ConfigPath,
		logger:   logging.OrNoOp(opts.Logger),
		now:      time.Now,
		entries:  entries,
		reload:   make(chan struct{}, 1),
	}
}

// SetSchedule replaces the schedule. A running timer restarts its tickers.
func (t *Timer) SetSchedule(entries []ScheduleEntry) {
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	select {
	case t.reload <- struct{}{}:
	default:
	}
}

func (t *Timer) schedule() []ScheduleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ScheduleEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timer) expand(prompt string) string {
	return strings.ReplaceAll(prompt, "{{timestamp}}", t.now().Format(time.RFC3339))
}

// Run ticks every schedule entry until ctx is done. When a config path is
// set, file changes reload the schedule without stopping the timer.
func (t *Timer) Run(ctx context.Context) error {
	if t.cfgPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("edge: watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(t.cfgPath); err != nil {
			return fmt.Errorf("edge: watch schedule: %w", err)
		}
		go t.watch(ctx, watcher)
	}

	for {
		tctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(tctx)
		for _, e := range t.schedule() {
			e := e
			g.Go(func() error {
				return t.tick(gctx, e)
			})
		}

		select {
		case <-ctx.Done():
			cancel()
			g.Wait()
			return ctx.Err()
		case <-t.reload:
			t.logger.Info("timer schedule reloaded")
			cancel()
			g.Wait()
		}
	}
}

func (t *Timer) tick(ctx context.Context, e ScheduleEntry) error {
	ticker := time.NewTicker(time.Duration(e.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := t.pub.Publish(ctx, t.sourceID, e.Keyword, t.expand(e.Prompt))
			t.logger.Debug("timer published", "keyword", e.Keyword, "delivered", n)
		}
	}
}

func (t *Timer) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			entries, err := LoadSchedule(t.cfgPath)
			if err != nil {
				t.logger.Warn("schedule reload failed", "error", err)
				continue
			}
			t.SetSchedule(entries)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("schedule watcher error", "error", err)
		}
	}
}
