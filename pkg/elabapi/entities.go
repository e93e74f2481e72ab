package elabapi

import (
	"context"
	"net/http"
	"strconv"
)

// ListTags lists the tags referenced by an experiment.
func (c *Client) ListTags(ctx context.Context, expID int) ([]Tag, error) {
	var tags []Tag
	if err := c.getJSON(ctx, "experiments/{id}/tags", experimentPath(expID)+"/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// AddTag references tag on an experiment, creating it in the team if needed.
func (c *Client) AddTag(ctx context.Context, expID int, tag string) error {
	_, err := c.sendJSON(ctx, http.MethodPost, "experiments/{id}/tags", experimentPath(expID)+"/tags",
		map[string]string{"tag": tag})
	return err
}

// UnreferenceTag detaches one tag from an experiment.
func (c *Client) UnreferenceTag(ctx context.Context, expID, tagID int) error {
	_, err := c.sendJSON(ctx, http.MethodPatch, "experiments/{id}/tags/{tag}",
		experimentPath(expID)+"/tags/"+strconv.Itoa(tagID),
		map[string]string{"action": "unreference"})
	return err
}

// ClearTags detaches every tag from an experiment.
func (c *Client) ClearTags(ctx context.Context, expID int) error {
	_, err := c.sendJSON(ctx, http.MethodDelete, "experiments/{id}/tags", experimentPath(expID)+"/tags", nil)
	return err
}

// ListSteps lists the steps of an experiment.
func (c *Client) ListSteps(ctx context.Context, expID int) ([]Step, error) {
	var steps []Step
	if err := c.getJSON(ctx, "experiments/{id}/steps", experimentPath(expID)+"/steps", nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// AddStep appends a step to an experiment.
func (c *Client) AddStep(ctx context.Context, expID int, body string) error {
	_, err := c.sendJSON(ctx, http.MethodPost, "experiments/{id}/steps", experimentPath(expID)+"/steps",
		map[string]string{"body": body})
	return err
}

// ListComments lists the comments of an experiment.
func (c *Client) ListComments(ctx context.Context, expID int) ([]Comment, error) {
	var comments []Comment
	if err := c.getJSON(ctx, "experiments/{id}/comments", experimentPath(expID)+"/comments", nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddComment appends a comment to an experiment.
func (c *Client) AddComment(ctx context.Context, expID int, comment string) error {
	_, err := c.sendJSON(ctx, http.MethodPost, "experiments/{id}/comments", experimentPath(expID)+"/comments",
		map[string]string{"comment": comment})
	return err
}
