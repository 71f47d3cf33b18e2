package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	nsync "github.com/nootle/nootle/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is merged.
	// This batches the write events of a single copy together
	DebounceInterval time.Duration

	// ProcessedDir and FailedDir receive handled files. Relative paths are
	// resolved against the inbox directory
	ProcessedDir string
	FailedDir    string

	// OnResult is called after each file is handled (optional)
	OnResult func(Result)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		ProcessedDir:     "processed",
		FailedDir:        "failed",
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Result describes one handled inbox file.
type Result struct {
	// Path is where the file was found
	Path string
	// MovedTo is where the file ended up (empty if it could not be moved)
	MovedTo string
	// Merge is set when the merge succeeded
	Merge *nsync.MergeResult
	// Err is set when the file was rejected
	Err error
}

// Daemon watches an inbox directory and merges snapshot files.
type Daemon struct {
	syncer       nsync.Syncer
	dir          string
	processedDir string
	failedDir    string
	config       *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	// processMu serializes file handling between the queue and ProcessDir
	processMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new Daemon instance.
//
// Use Start() to begin watching, or ProcessDir() for a single pass.
func New(syncer nsync.Syncer, dir string) (*Daemon, error) {
	return NewWithConfig(syncer, dir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer nsync.Syncer, dir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.ProcessedDir == "" {
		config.ProcessedDir = defaults.ProcessedDir
	}
	if config.FailedDir == "" {
		config.FailedDir = defaults.FailedDir
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve inbox dir: %w", err)
	}

	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:       syncer,
		dir:          dir,
		processedDir: resolve(config.ProcessedDir),
		failedDir:    resolve(config.FailedDir),
		config:       config,
		watcher:      watcher,
		changeQueue:  make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Dir returns the absolute inbox directory.
func (d *Daemon) Dir() string {
	return d.dir
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Create the inbox directories if missing
// 2. Merge snapshot files already in the inbox
// 3. Watch for new files and merge them after debouncing
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting inbox daemon")

	for _, dir := range []string{d.dir, d.processedDir, d.failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if _, err := d.ProcessDir(ctx); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	if err := d.watcher.Add(d.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping inbox daemon")

		d.cancel()

		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()

		d.config.Logger.Println("Inbox daemon stopped")
	})
	return nil
}

// ProcessDir merges every snapshot file currently in the inbox, oldest
// name first.
func (d *Daemon) ProcessDir(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		if d.isSnapshotFile(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if res, ok := d.processFile(ctx, path); ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Renames into the inbox show up as Create
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !d.isSnapshotFile(event.Name) {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges merges files that have been quiet for long enough.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if d.ctx.Err() != nil {
			return
		}
		d.processFile(d.ctx, path)
	}
}

// processFile merges one file and moves it out of the inbox. It returns
// false when the file is already gone.
func (d *Daemon) processFile(ctx context.Context, path string) (Result, bool) {
	d.processMu.Lock()
	defer d.processMu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{}, false
	}

	d.config.Logger.Printf("Processing: %s", path)

	res := Result{Path: path}
	merge, err := d.syncer.ImportFile(ctx, path)
	target := d.processedDir
	if err != nil {
		res.Err = err
		target = d.failedDir
		d.config.Logger.Printf("Rejected %s: %v", filepath.Base(path), err)
	} else {
		res.Merge = merge
		d.config.Logger.Printf("Merged %s: created=%d updated=%d skipped=%d",
			filepath.Base(path), merge.Created, merge.Updated, merge.Skipped)
	}

	moved, err := moveFile(path, target)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to move %s: %v", path, err)
	} else {
		res.MovedTo = moved
	}

	if d.config.OnResult != nil {
		d.config.OnResult(res)
	}
	return res, true
}

// isSnapshotFile reports whether path is a visible .json file directly in
// the inbox.
func (d *Daemon) isSnapshotFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == d.dir
}

// moveFile moves path into dir under a time-prefixed name and returns the
// new path.
func moveFile(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	target := filepath.Join(dir, stamp+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}
