// Package watcher turns files appearing in the Labmate data directory into
// bridge snapshots.
//
// Every data file (default extension .h5) and every figure named
// <stem>_FIG* is grouped under <dir>/<stem>. Changes are debounced per data
// file, then the file is saved into the acquisition of its folder, so one
// folder maps to one experiment titled after it. All snapshot calls happen
// on the single goroutine running Run.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/bridge"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/logger"
)

// DefaultDebounce is how long an acquisition must stay quiet before it is saved.
const DefaultDebounce = 2 * time.Second

// figureMarker separates the data file stem from the figure suffix.
const figureMarker = "_FIG"

// Snapshotter receives the acquisitions found by the watcher. *bridge.Bridge
// implements it.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, acq bridge.Acquisition) error
	EndAcquisition(ctx context.Context, acquisitionID string) error
}

// Watcher watches a directory tree for acquisition files.
type Watcher struct {
	root      string
	snap      Snapshotter
	debounce  time.Duration
	extension string
	logger    *zap.Logger

	fs *fsnotify.Watcher
	// pending maps <dir>/<stem> keys to the time they become due
	pending map[string]time.Time
	// started holds the folders saved at least once
	started map[string]struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before an acquisition is saved.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtension sets the data file extension, e.g. ".h5".
func WithExtension(ext string) Option {
	return func(w *Watcher) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.extension = ext
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New watches root and every folder below it. Files written after New
// returns are picked up once Run is called.
func New(root string, snap Snapshotter, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot watch Labmate data directory").
			WithDetail("dir", root)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrorTypeConfig, "Labmate data directory %s is not a directory", root)
	}

	w := &Watcher{
		root:      root,
		snap:      snap,
		debounce:  DefaultDebounce,
		extension: bridge.DataExtension,
		pending:   make(map[string]time.Time),
		started:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.With(zap.String("component", "watcher"), zap.String("root", root))

	w.fs, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create file watcher")
	}
	if err := w.addTree(root, false); err != nil {
		_ = w.fs.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching. Run closes the watcher itself on return.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run dispatches snapshots until ctx is cancelled, then ends every
// acquisition it started. Pending changes that are not yet due are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	defer w.endAll()

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	w.logger.Info("watching Labmate data directory", zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			if len(w.pending) > 0 {
				w.logger.Warn("dropping pending acquisitions", zap.Int("count", len(w.pending)))
			}
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// files may land in a new folder before it is watched
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Warn("cannot watch new folder", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	w.touch(event.Name)
}

// touch schedules the acquisition owning path, if any.
func (w *Watcher) touch(path string) {
	key, ok := w.acquisitionKey(path)
	if !ok {
		return
	}
	if _, queued := w.pending[key]; !queued {
		w.logger.Debug("acquisition changed", zap.String("acquisition_id", key))
	}
	w.pending[key] = time.Now().Add(w.debounce)
}

// acquisitionKey maps a data or figure file to <dir>/<stem>.
func (w *Watcher) acquisitionKey(path string) (string, bool) {
	name := filepath.Base(path)
	var stem string
	switch {
	case strings.HasSuffix(name, w.extension) && len(name) > len(w.extension):
		stem = strings.TrimSuffix(name, w.extension)
	case strings.Contains(name, figureMarker):
		stem = name[:strings.Index(name, figureMarker)]
		// figures may be named after the full data file name
		stem = strings.TrimSuffix(stem, w.extension)
	}
	if stem == "" {
		return "", false
	}
	return filepath.Join(filepath.Dir(path), stem), true
}

// flush saves every acquisition whose debounce expired before now.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	var due []string
	for key, at := range w.pending {
		if !at.After(now) {
			due = append(due, key)
		}
	}
	sort.Strings(due)

	for _, key := range due {
		delete(w.pending, key)
		// every data file in a folder belongs to the folder's experiment
		folder := filepath.Dir(key)
		acq := bridge.Acquisition{
			ID:             folder,
			ExperimentName: filepath.Base(folder),
			Filepath:       key + w.extension,
		}
		if err := w.snap.SaveSnapshot(ctx, acq); err != nil {
			w.logger.Error("snapshot failed",
				zap.String("acquisition_id", folder),
				zap.String("file", acq.Filepath),
				zap.String("error_type", string(errors.TypeOf(err))),
				zap.Error(err))
			continue
		}
		w.started[folder] = struct{}{}
		w.logger.Info("snapshot saved",
			zap.String("acquisition_id", folder),
			zap.String("file", acq.Filepath),
			zap.String("experiment", acq.ExperimentName))
	}
}

func (w *Watcher) endAll() {
	keys := make([]string, 0, len(w.started))
	for key := range w.started {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		err := w.snap.EndAcquisition(context.Background(), key)
		if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
			w.logger.Warn("failed to end acquisition", zap.String("acquisition_id", key), zap.Error(err))
		}
		delete(w.started, key)
	}
}

// addTree watches dir and its subfolders. With scan set, files already in
// them are scheduled too.
func (w *Watcher) addTree(dir string, scan bool) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to walk data directory").
					WithDetail("dir", dir)
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to watch folder").
					WithDetail("dir", path)
			}
			return nil
		}
		if scan && d.Type().IsRegular() {
			w.touch(path)
		}
		return nil
	})
}
