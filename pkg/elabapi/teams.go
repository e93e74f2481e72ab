package elabapi

import (
	"context"
	"strconv"
)

// CurrentTeam addresses the team of the API key's owner.
const CurrentTeam = "current"

// ReadTeam fetches a team by id or by CurrentTeam.
func (c *Client) ReadTeam(ctx context.Context, team string) (*Team, error) {
	var t Team
	if err := c.getJSON(ctx, "teams/{id}", "teams/"+team, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListCategories lists the experiment categories of a team.
func (c *Client) ListCategories(ctx context.Context, teamID int) ([]Category, error) {
	var cats []Category
	path := "teams/" + strconv.Itoa(teamID) + "/experiments_categories"
	if err := c.getJSON(ctx, "teams/{id}/experiments_categories", path, nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// ListStatuses lists the experiment statuses of a team.
func (c *Client) ListStatuses(ctx context.Context, teamID int) ([]Status, error) {
	var statuses []Status
	path := "teams/" + strconv.Itoa(teamID) + "/experiments_status"
	if err := c.getJSON(ctx, "teams/{id}/experiments_status", path, nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ListTemplates lists the experiment templates visible to the API key.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.getJSON(ctx, "experiments_templates", "experiments_templates", nil, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}
