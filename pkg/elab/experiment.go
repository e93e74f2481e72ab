package elab

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/elabapi"
	"github.com/ajitpratap0/elabmate/pkg/errors"
)

// Experiment is a handle on one remote experiment. Each mutation is one
// immediate request; only fields set through the handle and the result of
// the last Refresh are held locally.
type Experiment struct {
	// client is not owned; it outlives every experiment it hands out
	client *Client
	id     int
	title  string
	body   string
	data   *elabapi.Experiment
	logger *zap.Logger
}

func newExperiment(c *Client, id int, title string) *Experiment {
	return &Experiment{
		client: c,
		id:     id,
		title:  title,
		logger: c.logger.With(zap.Int("experiment_id", id)),
	}
}

func (e *Experiment) setData(data *elabapi.Experiment) {
	e.data = data
	e.title = data.Title
	e.body = data.Body
}

// ID returns the server id.
func (e *Experiment) ID() int {
	return e.id
}

// Title returns the last known title.
func (e *Experiment) Title() string {
	return e.title
}

// MainText returns the last known body.
func (e *Experiment) MainText() string {
	return e.body
}

// Data returns the payload of the last Refresh, or nil.
func (e *Experiment) Data() *elabapi.Experiment {
	return e.data
}

// Refresh fetches the experiment from the server.
func (e *Experiment) Refresh(ctx context.Context) (*elabapi.Experiment, error) {
	data, err := e.client.api.GetExperiment(ctx, e.id)
	if err != nil {
		return nil, err
	}
	e.setData(data)
	return data, nil
}

// SetTitle renames the experiment.
func (e *Experiment) SetTitle(ctx context.Context, title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New(errors.ErrorTypeValidation, "experiment title must not be empty")
	}
	if err := e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Title: &title}); err != nil {
		return err
	}
	e.title = title
	return nil
}

// SetMainText replaces the experiment body.
func (e *Experiment) SetMainText(ctx context.Context, text string) error {
	if err := e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Body: &text}); err != nil {
		return err
	}
	e.body = text
	return nil
}

// SetCategory sets the category by title.
func (e *Experiment) SetCategory(ctx context.Context, title string) error {
	id, err := e.client.CategoryID(ctx, title)
	if err != nil {
		return err
	}
	return e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Category: &id})
}

// SetCategoryID sets the category by id, which must exist in the team.
func (e *Experiment) SetCategoryID(ctx context.Context, id int) error {
	cats, err := e.client.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, cat := range cats {
		if cat.ID == id {
			return e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Category: &id})
		}
	}
	return errors.Newf(errors.ErrorTypeNotFound, "category %d does not exist", id)
}

// SetStatus sets the status by title.
func (e *Experiment) SetStatus(ctx context.Context, title string) error {
	id, err := e.client.StatusID(ctx, title)
	if err != nil {
		return err
	}
	return e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Status: &id})
}

// SetStatusID sets the status by id, which must exist in the team.
func (e *Experiment) SetStatusID(ctx context.Context, id int) error {
	statuses, err := e.client.ListStatuses(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.ID == id {
			return e.client.api.PatchExperiment(ctx, e.id, elabapi.ExperimentPatch{Status: &id})
		}
	}
	return errors.Newf(errors.ErrorTypeNotFound, "status %d does not exist", id)
}

// Tags lists the tag names of the experiment.
func (e *Experiment) Tags(ctx context.Context) ([]string, error) {
	tags, err := e.client.api.ListTags(ctx, e.id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Tag)
	}
	return names, nil
}

// HasTag reports whether tag is attached.
func (e *Experiment) HasTag(ctx context.Context, tag string) (bool, error) {
	names, err := e.Tags(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == tag {
			return true, nil
		}
	}
	return false, nil
}

// AddTag attaches tag. Adding a tag that is already attached does nothing.
func (e *Experiment) AddTag(ctx context.Context, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return errors.New(errors.ErrorTypeValidation, "tag must not be empty")
	}
	present, err := e.HasTag(ctx, tag)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if err := e.client.api.AddTag(ctx, e.id, tag); err != nil {
		return err
	}
	e.logger.Debug("tag added", zap.String("tag", tag))
	return nil
}

// RemoveTag detaches tag, failing with ErrorTypeNotFound when it is absent.
func (e *Experiment) RemoveTag(ctx context.Context, tag string) error {
	tags, err := e.client.api.ListTags(ctx, e.id)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t.Tag == tag {
			return e.client.api.UnreferenceTag(ctx, e.id, t.Ref())
		}
	}
	return errors.Newf(errors.ErrorTypeNotFound, "tag %q is not attached", tag).
		WithDetail("experiment_id", e.id)
}

// ClearTags detaches every tag.
func (e *Experiment) ClearTags(ctx context.Context) error {
	return e.client.api.ClearTags(ctx, e.id)
}

// AddStep appends a step.
func (e *Experiment) AddStep(ctx context.Context, text string) error {
	return e.client.api.AddStep(ctx, e.id, text)
}

// Steps lists the step bodies in order.
func (e *Experiment) Steps(ctx context.Context) ([]string, error) {
	steps, err := e.client.api.ListSteps(ctx, e.id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Body)
	}
	return out, nil
}

// AddComment appends a comment.
func (e *Experiment) AddComment(ctx context.Context, text string) error {
	return e.client.api.AddComment(ctx, e.id, text)
}

// Comments lists the comments in order.
func (e *Experiment) Comments(ctx context.Context) ([]string, error) {
	comments, err := e.client.api.ListComments(ctx, e.id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.Comment)
	}
	return out, nil
}

// String implements fmt.Stringer
func (e *Experiment) String() string {
	return fmt.Sprintf("experiment %d %q", e.id, e.title)
}
