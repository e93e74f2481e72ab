package elabapi

import "strings"

// EntityExperiments is the entity type segment for experiments.
const EntityExperiments = "experiments"

// Experiment is an experiment as returned by GET experiments/{id}.
type Experiment struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	Category      int    `json:"category"`
	CategoryTitle string `json:"category_title"`
	Status        int    `json:"status"`
	StatusTitle   string `json:"status_title"`
	// Tags is the pipe separated tag list, e.g. "cryo|sample-3"
	Tags       string `json:"tags"`
	Locked     int    `json:"locked"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
}

// TagNames splits the Tags field.
func (e *Experiment) TagNames() []string {
	if e.Tags == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(e.Tags, "|") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ExperimentPatch holds the fields of a PATCH experiments/{id}. Nil fields
// are left untouched.
type ExperimentPatch struct {
	Title    *string `json:"title,omitempty"`
	Body     *string `json:"body,omitempty"`
	Category *int    `json:"category,omitempty"`
	Status   *int    `json:"status,omitempty"`
}

// Tag is a tag reference on an entity.
type Tag struct {
	ID    int    `json:"id"`
	TagID int    `json:"tag_id"`
	Tag   string `json:"tag"`
}

// Ref returns the id used to address the tag under experiments/{id}/tags.
func (t Tag) Ref() int {
	if t.TagID > 0 {
		return t.TagID
	}
	return t.ID
}

// Step is an experiment step.
type Step struct {
	ID       int    `json:"id"`
	Body     string `json:"body"`
	Finished int    `json:"finished"`
}

// Comment is an experiment comment.
type Comment struct {
	ID        int    `json:"id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// Upload is an attachment on an entity.
type Upload struct {
	ID            int    `json:"id"`
	RealName      string `json:"real_name"`
	LongName      string `json:"long_name"`
	Comment       string `json:"comment"`
	Hash          string `json:"hash"`
	HashAlgorithm string `json:"hash_algorithm"`
	Filesize      int64  `json:"filesize"`
	CreatedAt     string `json:"created_at"`
}

// Category is a team experiment category.
type Category struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// Status is a team experiment status.
type Status struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// Template is an experiment template.
type Template struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Team is an eLabFTW team.
type Team struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
