package elabapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListLimit is the page size requested when listing experiments. Title
// lookups need the full list and the API pages by limit/offset.
const ListLimit = 10000

// CreateExperiment posts a new experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, title string) (int, error) {
	header, err := c.sendJSON(ctx, http.MethodPost, "experiments", "experiments",
		map[string]interface{}{"title": title})
	if err != nil {
		return 0, err
	}
	return createdID(header)
}

// CreateExperimentFromTemplate posts a new experiment based on a template.
func (c *Client) CreateExperimentFromTemplate(ctx context.Context, templateID int) (int, error) {
	header, err := c.sendJSON(ctx, http.MethodPost, "experiments", "experiments",
		map[string]interface{}{"template": templateID})
	if err != nil {
		return 0, err
	}
	return createdID(header)
}

// GetExperiment fetches one experiment.
func (c *Client) GetExperiment(ctx context.Context, id int) (*Experiment, error) {
	var exp Experiment
	if err := c.getJSON(ctx, "experiments/{id}", experimentPath(id), nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// ListExperiments lists the experiments visible to the API key.
func (c *Client) ListExperiments(ctx context.Context) ([]Experiment, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(ListLimit))

	var exps []Experiment
	if err := c.getJSON(ctx, "experiments", "experiments", query, &exps); err != nil {
		return nil, err
	}
	return exps, nil
}

// PatchExperiment updates the non-nil fields of patch.
func (c *Client) PatchExperiment(ctx context.Context, id int, patch ExperimentPatch) error {
	_, err := c.sendJSON(ctx, http.MethodPatch, "experiments/{id}", experimentPath(id), patch)
	return err
}

func experimentPath(id int) string {
	return EntityExperiments + "/" + strconv.Itoa(id)
}
