// Package elab is the convenience layer over the eLabFTW API: a Client that
// owns one authenticated session and Experiment handles whose mutations are
// pushed to the server immediately.
//
//	client, err := elab.NewFromFile("elab_server.conf")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	exp, err := client.CreateExperiment(ctx, "Cooldown 12", elab.WithCategory("Measurement"))
//	if err != nil {
//	    return err
//	}
//	_ = exp.AddTag(ctx, "cryo")
//	_, _ = exp.UploadFile(ctx, "/data/cooldown12.h5")
//
// Operations are synchronous and never retried. Failures are *errors.Error
// values classified by errors.ErrorType.
package elab

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/clients"
	"github.com/ajitpratap0/elabmate/pkg/config"
	"github.com/ajitpratap0/elabmate/pkg/elabapi"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/logger"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
)

// Client is the entry point to one eLabFTW server. It is not safe for
// concurrent first use of TeamID.
type Client struct {
	cfg     *config.Config
	api     *elabapi.Client
	logger  *zap.Logger
	metrics *metrics.Collector

	// teamID memoises the resolved team, 0 until known
	teamID int
}

type clientOptions struct {
	logger     *zap.Logger
	metrics    *metrics.Collector
	httpClient *clients.HTTPClient
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger used by the client and its experiments.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithMetrics records request and upload metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *clientOptions) {
		o.metrics = collector
	}
}

// WithHTTPClient supplies the transport instead of building one from the
// configuration. The caller keeps ownership.
func WithHTTPClient(hc *clients.HTTPClient) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// New creates a Client from a resolved configuration. No request is sent.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}

	apiOpts := []elabapi.Option{
		elabapi.WithLogger(o.logger),
		elabapi.WithMetrics(o.metrics),
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, elabapi.WithHTTPClient(o.httpClient))
	}

	api, err := elabapi.NewClient(cfg, apiOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		api:     api,
		logger:  o.logger.With(zap.String("component", "elab")),
		metrics: o.metrics,
	}
	if cfg.HasTeamID() {
		c.teamID = cfg.TeamID
	}

	c.logger.Debug("client created",
		zap.String("host", cfg.APIHostURL),
		zap.Bool("verify_ssl", cfg.VerifySSL),
		zap.Bool("unique_titles", cfg.UniqueExperimentTitles))

	return c, nil
}

// NewFromFile loads the configuration at path and creates a Client.
func NewFromFile(path string, opts ...Option) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Close releases the session. Experiments created through the client must
// not be used afterwards.
func (c *Client) Close() error {
	return c.api.Close()
}

// API exposes the underlying REST client.
func (c *Client) API() *elabapi.Client {
	return c.api
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// TeamID returns the configured team, or resolves the current team with a
// single request the first time it is needed.
func (c *Client) TeamID(ctx context.Context) (int, error) {
	if c.teamID > 0 {
		return c.teamID, nil
	}

	team, err := c.api.ReadTeam(ctx, elabapi.CurrentTeam)
	if err != nil {
		switch errors.StatusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return 0, errors.Wrap(err, errors.ErrorTypeAuthentication, "the server rejected the API key")
		default:
			return 0, errors.Wrap(err, errors.ErrorTypeResolution,
				"TEAM_ID is not set and the current team could not be resolved")
		}
	}
	if team.ID <= 0 {
		return 0, errors.New(errors.ErrorTypeResolution,
			"unable to determine the team id; set TEAM_ID in the configuration")
	}

	c.teamID = team.ID
	c.logger.Debug("team resolved", zap.Int("team_id", team.ID), zap.String("team", team.Name))
	return c.teamID, nil
}

// CreateOption adjusts a new experiment.
type CreateOption func(*createOptions)

type createOptions struct {
	category string
	status   string
}

// WithCategory sets the category, by title, right after creation.
func WithCategory(title string) CreateOption {
	return func(o *createOptions) {
		o.category = title
	}
}

// WithStatus sets the status, by title, right after creation.
func WithStatus(title string) CreateOption {
	return func(o *createOptions) {
		o.status = title
	}
}

// CreateExperiment creates an experiment. When unique titles are enforced
// and the title exists, it fails with ErrorTypeDuplicateTitle. Category and
// status names are checked before the experiment is created but applied
// after it; if applying them fails, the experiment is returned with the error.
func (c *Client) CreateExperiment(ctx context.Context, title string, opts ...CreateOption) (*Experiment, error) {
	return c.create(ctx, title, 0, opts)
}

// CreateExperimentFromTemplate creates an experiment from the template with
// the given title, then renames it to title.
//
// Creation is not atomic: when the rename fails, the experiment already
// exists on the server and is returned together with the error.
func (c *Client) CreateExperimentFromTemplate(ctx context.Context, title, template string, opts ...CreateOption) (*Experiment, error) {
	templates, err := c.api.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Title == template {
			return c.create(ctx, title, t.ID, opts)
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "template %q does not exist", template).
		WithDetail("template", template)
}

func (c *Client) create(ctx context.Context, title string, templateID int, opts []CreateOption) (*Experiment, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "experiment title must not be empty")
	}

	o := &createOptions{}
	for _, opt := range opts {
		opt(o)
	}

	// Names are resolved before anything is created.
	var patch elabapi.ExperimentPatch
	if o.category != "" {
		id, err := c.CategoryID(ctx, o.category)
		if err != nil {
			return nil, err
		}
		patch.Category = &id
	}
	if o.status != "" {
		id, err := c.StatusID(ctx, o.status)
		if err != nil {
			return nil, err
		}
		patch.Status = &id
	}

	if c.cfg.UniqueExperimentTitles {
		titles, err := c.ExperimentTitles(ctx)
		if err != nil {
			return nil, err
		}
		if _, exists := titles[title]; exists {
			return nil, errors.Newf(errors.ErrorTypeDuplicateTitle, "an experiment titled %q already exists", title).
				WithDetail("title", title)
		}
	}

	var id int
	var err error
	if templateID > 0 {
		id, err = c.api.CreateExperimentFromTemplate(ctx, templateID)
		patch.Title = &title
	} else {
		id, err = c.api.CreateExperiment(ctx, title)
	}
	if err != nil {
		return nil, err
	}

	if patch != (elabapi.ExperimentPatch{}) {
		if err := c.api.PatchExperiment(ctx, id, patch); err != nil {
			c.logger.Warn("experiment created but not updated",
				zap.Int("experiment_id", id), zap.String("title", title), zap.Error(err))
			return newExperiment(c, id, title), err
		}
	}

	c.logger.Info("experiment created", zap.Int("experiment_id", id), zap.String("title", title))
	return newExperiment(c, id, title), nil
}

// GetExperiment fetches an experiment by id.
func (c *Client) GetExperiment(ctx context.Context, id int) (*Experiment, error) {
	data, err := c.api.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := newExperiment(c, id, data.Title)
	exp.setData(data)
	return exp, nil
}

// LoadExperiment returns the experiment with exactly the given title. When
// several share it, the first one listed by the server wins.
func (c *Client) LoadExperiment(ctx context.Context, title string) (*Experiment, error) {
	exps, err := c.api.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range exps {
		if exps[i].Title == title {
			exp := newExperiment(c, exps[i].ID, title)
			exp.setData(&exps[i])
			return exp, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "no experiment titled %q", title).
		WithDetail("title", title)
}

// ExperimentTitles maps experiment titles to ids.
func (c *Client) ExperimentTitles(ctx context.Context) (map[string]int, error) {
	exps, err := c.api.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]int, len(exps))
	for _, exp := range exps {
		if _, seen := titles[exp.Title]; !seen {
			titles[exp.Title] = exp.ID
		}
	}
	return titles, nil
}

// ListCategories lists the experiment categories of the team.
func (c *Client) ListCategories(ctx context.Context) ([]elabapi.Category, error) {
	teamID, err := c.TeamID(ctx)
	if err != nil {
		return nil, err
	}
	return c.api.ListCategories(ctx, teamID)
}

// ListStatuses lists the experiment statuses of the team.
func (c *Client) ListStatuses(ctx context.Context) ([]elabapi.Status, error) {
	teamID, err := c.TeamID(ctx)
	if err != nil {
		return nil, err
	}
	return c.api.ListStatuses(ctx, teamID)
}

// ListTemplates lists the experiment templates.
func (c *Client) ListTemplates(ctx context.Context) ([]elabapi.Template, error) {
	return c.api.ListTemplates(ctx)
}

// DownloadUpload streams one upload of an experiment to w.
func (c *Client) DownloadUpload(ctx context.Context, experimentID, uploadID int, w io.Writer) (int64, error) {
	return c.api.DownloadUpload(ctx, experimentID, uploadID, w)
}

// CategoryID resolves a category title of the team to its id.
func (c *Client) CategoryID(ctx context.Context, title string) (int, error) {
	cats, err := c.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	for _, cat := range cats {
		if cat.Title == title {
			return cat.ID, nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeNotFound, "category %q does not exist", title).
		WithDetail("category", title)
}

// StatusID resolves a status title of the team to its id.
func (c *Client) StatusID(ctx context.Context, title string) (int, error) {
	statuses, err := c.ListStatuses(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range statuses {
		if s.Title == title {
			return s.ID, nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeNotFound, "status %q does not exist", title).
		WithDetail("status", title)
}
