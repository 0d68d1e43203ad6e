// Package fetch retrieves a task's data source into the downloads folder and
// waits for the resulting artifact.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cli/browser"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-getter"

	"coworkerbot/internal/core"
)

// Mode selects how a download is started.
type Mode string

const (
	// ModeDirect downloads the source itself.
	ModeDirect Mode = "direct"
	// ModeBrowser opens the source in the default browser and waits for the
	// browser to save the file.
	ModeBrowser Mode = "browser"
)

var ErrArtifactTimeout = errors.New("artifact did not appear before timeout")

const defaultPollInterval = time.Second

// partial download markers written by browsers.
var partialSuffixes = []string{".crdownload", ".part", ".partial", ".tmp", ".download"}

// Config configures a Fetcher.
type Config struct {
	Dir          string
	Mode         Mode
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Fetcher implements core.FetchBackend.
type Fetcher struct {
	dir    string
	mode   Mode
	poll   time.Duration
	logger *slog.Logger

	openURL  func(url string) error
	download func(ctx context.Context, dst, src string) error
	now      func() time.Time

	mu    sync.Mutex
	since map[string]time.Time // search key -> trigger time
}

// New prepares the downloads folder.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("downloads directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads dir: %w", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.Mode != ModeDirect && cfg.Mode != ModeBrowser {
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Mode)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		dir:      cfg.Dir,
		mode:     cfg.Mode,
		poll:     cfg.PollInterval,
		logger:   cfg.Logger,
		openURL:  browser.OpenURL,
		download: getFile,
		now:      time.Now,
		since:    make(map[string]time.Time),
	}, nil
}

func getFile(ctx context.Context, dst, src string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	return client.Get()
}

// Dir is the folder artifacts are expected in.
func (f *Fetcher) Dir() string { return f.dir }

// Trigger removes stale artifacts for the key, then starts the download.
func (f *Fetcher) Trigger(ctx context.Context, source string, hints core.ArtifactHints) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("data source is empty")
	}
	if hints.SearchKey != "" {
		f.cleanup(hints)
	}
	started := f.now()
	f.mu.Lock()
	f.since[hints.SearchKey] = started
	f.mu.Unlock()

	switch f.mode {
	case ModeBrowser:
		f.logger.Info("opening download in browser", "source", source)
		if err := f.openURL(source); err != nil {
			return fmt.Errorf("open browser: %w", err)
		}
		return nil
	default:
		key := hints.SearchKey
		if key == "" {
			key = "download"
		}
		name := fmt.Sprintf("%s_%s%s", key, started.Format("20060102_150405"), extension(hints))
		dst := filepath.Join(f.dir, name)
		f.logger.Info("downloading", "source", source, "dest", dst)
		if err := f.download(ctx, dst, source); err != nil {
			_ = os.Remove(dst)
			return fmt.Errorf("download: %w", err)
		}
		return nil
	}
}

// AwaitArtifact waits for a complete file matching hints, reacting to folder
// events and polling as a fallback.
func (f *Fetcher) AwaitArtifact(ctx context.Context, hints core.ArtifactHints, timeout time.Duration) (string, error) {
	f.mu.Lock()
	since := f.since[hints.SearchKey]
	f.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(f.dir); err != nil {
			f.logger.Warn("watch downloads dir, polling only", "dir", f.dir, "err", err)
		}
		defer watcher.Close()
	} else {
		f.logger.Warn("create downloads watcher, polling only", "err", err)
	}

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		if path, ok := f.find(hints, since); ok {
			f.logger.Info("artifact ready", "path", path)
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%s after %s: %w", hints.SearchKey, timeout, ErrArtifactTimeout)
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
	}
}

// Discard deletes a consumed artifact.
func (f *Fetcher) Discard(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (f *Fetcher) cleanup(hints core.ArtifactHints) {
	for _, path := range f.candidates(hints) {
		if err := os.Remove(path); err != nil {
			f.logger.Warn("remove stale artifact", "path", path, "err", err)
			continue
		}
		f.logger.Info("removed stale artifact", "path", path)
	}
}

type candidate struct {
	path    string
	modTime time.Time
}

func (f *Fetcher) find(hints core.ArtifactHints, since time.Time) (string, bool) {
	var ready []candidate
	for _, path := range f.candidates(hints) {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		// Allow for coarse filesystem timestamps.
		if !since.IsZero() && info.ModTime().Before(since.Add(-2*time.Second)) {
			continue
		}
		if locked(path) {
			continue
		}
		ready = append(ready, candidate{path: path, modTime: info.ModTime()})
	}
	if len(ready) == 0 {
		return "", false
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].modTime.After(ready[j].modTime) })
	return ready[0].path, true
}

func (f *Fetcher) candidates(hints core.ArtifactHints) []string {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		f.logger.Warn("read downloads dir", "dir", f.dir, "err", err)
		return nil
	}
	ext := extension(hints)
	key := strings.ToLower(hints.SearchKey)
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") || isPartial(lower) {
			continue
		}
		if !strings.HasSuffix(lower, ext) || !strings.Contains(lower, key) {
			continue
		}
		out = append(out, filepath.Join(f.dir, name))
	}
	return out
}

func extension(hints core.ArtifactHints) string {
	ext := strings.ToLower(hints.Extension)
	if ext == "" {
		return ".csv"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// locked reports whether another process still holds the file for writing.
func locked(path string) bool {
	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return true
	}
	fh.Close()
	return false
}
