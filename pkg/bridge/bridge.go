// Package bridge mirrors Labmate acquisitions into eLabFTW experiments.
//
// A Bridge implements AcquisitionBackend: an acquisition manager starts an
// acquisition, streams events for it and ends it, and the bridge forwards
// each call to the experiment bound to that acquisition.
//
//	b := bridge.New(client)
//	_ = b.StartAcquisition(ctx, bridge.Acquisition{ID: "run-7", ExperimentName: "Cooldown 12"})
//	_ = b.HandleEvent(ctx, "run-7", bridge.Event{Kind: bridge.EventStep, Text: "sweep started"})
//	_ = b.EndAcquisition(ctx, "run-7")
package bridge

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/elab"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/logger"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
	"github.com/ajitpratap0/elabmate/pkg/observability"
)

// AcquisitionBackend is the capability an acquisition manager drives.
type AcquisitionBackend interface {
	// StartAcquisition binds acq to an experiment. Starting a bound
	// acquisition again does nothing.
	StartAcquisition(ctx context.Context, acq Acquisition) error
	// HandleEvent applies ev to the experiment bound to acquisitionID.
	HandleEvent(ctx context.Context, acquisitionID string, ev Event) error
	// EndAcquisition forgets the binding of acquisitionID.
	EndAcquisition(ctx context.Context, acquisitionID string) error
}

// ExperimentStore creates and finds experiments. *elab.Client implements it.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, title string, opts ...elab.CreateOption) (*elab.Experiment, error)
	GetExperiment(ctx context.Context, id int) (*elab.Experiment, error)
	LoadExperiment(ctx context.Context, title string) (*elab.Experiment, error)
	CategoryID(ctx context.Context, title string) (int, error)
	StatusID(ctx context.Context, title string) (int, error)
}

// Resolver picks the experiment of an acquisition before the default
// lookup. Returning a nil experiment and nil error falls through.
type Resolver func(ctx context.Context, acq Acquisition) (*elab.Experiment, error)

// Acquisition describes one data capture session.
type Acquisition struct {
	// ID keys the binding; the experiment title is used when empty
	ID string
	// ExperimentName is the experiment title; the parent folder of
	// Filepath is used when empty
	ExperimentName string
	// ExperimentID binds to an existing experiment instead of a title lookup
	ExperimentID int
	// Filepath is the acquisition data file, with or without extension
	Filepath string

	Tags     []string
	Category string
	Status   string
	Body     string
}

// Title returns the experiment title of the acquisition.
func (a Acquisition) Title() string {
	if a.ExperimentName != "" {
		return a.ExperimentName
	}
	if a.Filepath != "" {
		return filepath.Base(filepath.Dir(a.Filepath))
	}
	return ""
}

// Key returns the identifier the binding is stored under.
func (a Acquisition) Key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Title()
}

// EventKind names what an Event does to the experiment.
type EventKind string

const (
	// EventStep appends Text as a step
	EventStep EventKind = "step"
	// EventComment appends Text as a comment
	EventComment EventKind = "comment"
	// EventText replaces the main text with Text
	EventText EventKind = "text"
	// EventTag attaches Text as a tag
	EventTag EventKind = "tag"
	// EventFile uploads the file at Path
	EventFile EventKind = "file"
)

// Event is one acquisition event.
type Event struct {
	Kind EventKind
	Text string
	Path string
}

// Bridge is an AcquisitionBackend writing to eLabFTW.
type Bridge struct {
	store    ExperimentStore
	resolver Resolver
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu          sync.Mutex
	experiments map[string]*elab.Experiment
	// created holds experiments created for an acquisition whose start
	// failed afterwards; the next start of that acquisition reuses them
	created map[string]*elab.Experiment
}

var _ AcquisitionBackend = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithResolver installs a custom experiment resolver.
func WithResolver(r Resolver) Option {
	return func(b *Bridge) {
		b.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithMetrics records acquisition and snapshot metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(b *Bridge) {
		b.metrics = collector
	}
}

// New creates a Bridge over store.
func New(store ExperimentStore, opts ...Option) *Bridge {
	b := &Bridge{
		store:       store,
		experiments: make(map[string]*elab.Experiment),
		created:     make(map[string]*elab.Experiment),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get()
	}
	b.logger = b.logger.With(zap.String("component", "bridge"))
	return b
}

// StartAcquisition binds acq to an experiment and applies its initial
// metadata: body, category, status and tags. Category and status names and
// tags are checked before anything is created or modified.
func (b *Bridge) StartAcquisition(ctx context.Context, acq Acquisition) error {
	_, err := b.start(ctx, acq)
	return err
}

func (b *Bridge) start(ctx context.Context, acq Acquisition) (*elab.Experiment, error) {
	key := acq.Key()
	if key == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "acquisition has neither an id nor an experiment title")
	}
	if exp := b.Experiment(key); exp != nil {
		return exp, nil
	}

	ctx = logger.ContextWithAcquisition(ctx, key)
	if err := b.checkMetadata(ctx, acq); err != nil {
		return nil, err
	}
	exp, created, err := b.resolve(ctx, key, acq)
	if created {
		b.mu.Lock()
		b.created[key] = exp
		b.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	if err := b.applyMetadata(ctx, exp, acq, created); err != nil {
		return nil, err
	}

	b.mu.Lock()
	delete(b.created, key)
	if existing, ok := b.experiments[key]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.experiments[key] = exp
	b.mu.Unlock()

	b.metrics.AcquisitionStarted()
	logger.FromContext(logger.ContextWithExperiment(ctx, exp.ID()), b.logger).
		Info("acquisition started", zap.String("title", exp.Title()))
	return exp, nil
}

// checkMetadata fails when acq names a category or status the team does
// not have, or carries an empty tag.
func (b *Bridge) checkMetadata(ctx context.Context, acq Acquisition) error {
	for _, tag := range acq.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New(errors.ErrorTypeValidation, "tag must not be empty")
		}
	}
	if acq.Category != "" {
		if _, err := b.store.CategoryID(ctx, acq.Category); err != nil {
			return err
		}
	}
	if acq.Status != "" {
		if _, err := b.store.StatusID(ctx, acq.Status); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds or creates the experiment of acq. created reports whether
// the experiment was created for acq with its category and status set.
func (b *Bridge) resolve(ctx context.Context, key string, acq Acquisition) (exp *elab.Experiment, created bool, err error) {
	b.mu.Lock()
	pending := b.created[key]
	b.mu.Unlock()
	if pending != nil {
		return pending, false, nil
	}

	if b.resolver != nil {
		exp, err = b.resolver(ctx, acq)
		if err != nil || exp != nil {
			return exp, false, err
		}
	}

	if acq.ExperimentID > 0 {
		exp, err = b.store.GetExperiment(ctx, acq.ExperimentID)
		return exp, false, err
	}

	title := acq.Title()
	if title == "" {
		return nil, false, errors.New(errors.ErrorTypeValidation, "cannot determine the experiment title of the acquisition")
	}

	var opts []elab.CreateOption
	if acq.Category != "" {
		opts = append(opts, elab.WithCategory(acq.Category))
	}
	if acq.Status != "" {
		opts = append(opts, elab.WithStatus(acq.Status))
	}
	exp, err = b.store.CreateExperiment(ctx, title, opts...)
	if errors.IsType(err, errors.ErrorTypeDuplicateTitle) {
		exp, err = b.store.LoadExperiment(ctx, title)
		return exp, false, err
	}
	return exp, exp != nil, err
}

// applyMetadata writes the metadata of acq to exp. Category and status are
// skipped when the experiment was created with them.
func (b *Bridge) applyMetadata(ctx context.Context, exp *elab.Experiment, acq Acquisition, created bool) error {
	if acq.Body != "" {
		if err := exp.SetMainText(ctx, acq.Body); err != nil {
			return err
		}
	}
	if acq.Category != "" && !created {
		if err := exp.SetCategory(ctx, acq.Category); err != nil {
			return err
		}
	}
	if acq.Status != "" && !created {
		if err := exp.SetStatus(ctx, acq.Status); err != nil {
			return err
		}
	}
	for _, tag := range acq.Tags {
		if err := exp.AddTag(ctx, tag); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent applies ev to the experiment bound to acquisitionID.
func (b *Bridge) HandleEvent(ctx context.Context, acquisitionID string, ev Event) error {
	exp := b.Experiment(acquisitionID)
	if exp == nil {
		return errors.Newf(errors.ErrorTypeNotFound, "acquisition %q is not started", acquisitionID)
	}

	switch ev.Kind {
	case EventStep:
		return exp.AddStep(ctx, ev.Text)
	case EventComment:
		return exp.AddComment(ctx, ev.Text)
	case EventText:
		return exp.SetMainText(ctx, ev.Text)
	case EventTag:
		return exp.AddTag(ctx, ev.Text)
	case EventFile:
		_, err := exp.UploadFile(ctx, ev.Path)
		return err
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown event kind %q", ev.Kind)
	}
}

// EndAcquisition forgets the binding of acquisitionID.
func (b *Bridge) EndAcquisition(_ context.Context, acquisitionID string) error {
	b.mu.Lock()
	_, ok := b.experiments[acquisitionID]
	delete(b.experiments, acquisitionID)
	b.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "acquisition %q is not started", acquisitionID)
	}
	b.metrics.AcquisitionEnded()
	b.logger.Info("acquisition ended", zap.String("acquisition_id", acquisitionID))
	return nil
}

// Experiment returns the experiment bound to acquisitionID, or nil.
func (b *Bridge) Experiment(acquisitionID string) *elab.Experiment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.experiments[acquisitionID]
}

// Acquisitions lists the started acquisition ids in order.
func (b *Bridge) Acquisitions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.experiments))
	for id := range b.experiments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SaveSnapshot starts acq when needed and uploads its data file and
// figures. Unchanged files are not transferred again.
func (b *Bridge) SaveSnapshot(ctx context.Context, acq Acquisition) (err error) {
	ctx, span := observability.StartSpan(ctx, "bridge.snapshot")
	span.SetAttribute("acquisition.id", acq.Key())
	defer func() {
		b.metrics.ObserveSnapshot(err)
		span.End(err)
	}()

	exp, err := b.start(ctx, acq)
	if err != nil {
		return err
	}

	attachments, err := Attachments(acq.Filepath)
	if err != nil {
		return err
	}
	span.SetAttribute("snapshot.files", len(attachments))
	for _, path := range attachments {
		outcome, err := exp.UploadFile(ctx, path)
		if err != nil {
			return err
		}
		b.logger.Debug("snapshot file",
			zap.String("acquisition_id", acq.Key()),
			zap.String("file", filepath.Base(path)),
			zap.String("outcome", string(outcome)))
	}
	return nil
}

// LoadSnapshot exists for symmetry with SaveSnapshot; snapshots are never
// read back from eLabFTW.
func (b *Bridge) LoadSnapshot(context.Context, Acquisition) error {
	return nil
}

// EnsureLocalFile downloads path when it is missing locally. The
// experiment is the one titled like the parent folder and the attachment
// the one named like the file. It reports whether path exists afterwards.
func (b *Bridge) EnsureLocalFile(ctx context.Context, path string) (bool, error) {
	if fileExists(path) {
		return true, nil
	}

	title := filepath.Base(filepath.Dir(path))
	exp, err := b.store.LoadExperiment(ctx, title)
	if err != nil {
		return false, err
	}

	upload, err := exp.File(ctx, filepath.Base(path))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := exp.DownloadFile(ctx, upload.ID, path); err != nil {
		return false, err
	}
	b.logger.Info("file restored from eLabFTW",
		zap.String("path", path),
		zap.Int("experiment_id", exp.ID()))
	return fileExists(path), nil
}

// isFigure reports whether name is a figure of the data file stem.
func isFigure(name, stem string) bool {
	return strings.HasPrefix(name, stem+"_FIG")
}
