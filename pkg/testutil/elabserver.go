package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/elabmate/pkg/config"
	"github.com/ajitpratap0/elabmate/pkg/json"
)

// FakeAPIKey is the key accepted by ElabServer.
const FakeAPIKey = "3-fake0123456789"

const apiPrefix = "/api/v2/"

// FakeExperiment is the server side state of one experiment.
type FakeExperiment struct {
	ID       int
	Title    string
	Body     string
	Category int
	Status   int
	// Tags keeps every reference, duplicates included
	Tags     []string
	Steps    []string
	Comments []string
	Uploads  []FakeUpload
	Locked   bool
}

// FakeUpload is one stored attachment.
type FakeUpload struct {
	ID        int
	RealName  string
	Comment   string
	Hash      string
	Content   []byte
	CreatedAt string
	Archived  bool
}

type fakeItem struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

// ElabServer is an in-memory eLabFTW v2 API for tests.
type ElabServer struct {
	*httptest.Server

	mu          sync.Mutex
	omitHashes  bool
	nextID      int
	clock       time.Time
	teamID      int
	experiments map[int]*FakeExperiment
	tagIDs      map[string]int
	categories  []fakeItem
	statuses    []fakeItem
	templates   []fakeItem
	calls       map[string]int
	failures    map[string]int
}

// NewElabServer starts a fake server closed at the end of the test.
func NewElabServer(t *testing.T) *ElabServer {
	t.Helper()

	s := &ElabServer{
		nextID:      100,
		clock:       time.Date(2025, 4, 16, 15, 0, 0, 0, time.UTC),
		teamID:      1,
		experiments: make(map[int]*FakeExperiment),
		tagIDs:      make(map[string]int),
		categories:  []fakeItem{{ID: 1, Title: "Measurement", Color: "29aeb9"}, {ID: 2, Title: "Calibration", Color: "ff8c00"}},
		statuses:    []fakeItem{{ID: 1, Title: "Running"}, {ID: 2, Title: "Success"}, {ID: 3, Title: "Fail"}},
		templates:   []fakeItem{{ID: 7, Title: "Cooldown"}},
		calls:       make(map[string]int),
		failures:    make(map[string]int),
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST experiments", s.createExperiment)
	s.handle(mux, "GET experiments", s.listExperiments)
	s.handle(mux, "GET experiments/{id}", s.getExperiment)
	s.handle(mux, "PATCH experiments/{id}", s.patchExperiment)
	s.handle(mux, "GET experiments/{id}/tags", s.listTags)
	s.handle(mux, "POST experiments/{id}/tags", s.addTag)
	s.handle(mux, "DELETE experiments/{id}/tags", s.clearTags)
	s.handle(mux, "PATCH experiments/{id}/tags/{tag}", s.unreferenceTag)
	s.handle(mux, "GET experiments/{id}/steps", s.listSteps)
	s.handle(mux, "POST experiments/{id}/steps", s.addStep)
	s.handle(mux, "GET experiments/{id}/comments", s.listComments)
	s.handle(mux, "POST experiments/{id}/comments", s.addComment)
	s.handle(mux, "GET experiments/{id}/uploads", s.listUploads)
	s.handle(mux, "POST experiments/{id}/uploads", s.createUpload)
	s.handle(mux, "GET experiments/{id}/uploads/{upload}", s.getUpload)
	s.handle(mux, "POST experiments/{id}/uploads/{upload}", s.replaceUpload)
	s.handle(mux, "GET teams/{id}", s.getTeam)
	s.handle(mux, "GET teams/{id}/experiments_categories", s.listCategories)
	s.handle(mux, "GET teams/{id}/experiments_status", s.listStatuses)
	s.handle(mux, "GET experiments_templates", s.listTemplates)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// APIURL returns the API root to use as API_HOST_URL.
func (s *ElabServer) APIURL() string {
	return s.URL + strings.TrimSuffix(apiPrefix, "/")
}

// Config returns a valid configuration pointing at the server.
func (s *ElabServer) Config() *config.Config {
	cfg := config.Default()
	cfg.APIHostURL = s.APIURL()
	cfg.APIKey = FakeAPIKey
	return cfg
}

// Calls returns how many requests hit route, e.g. "GET teams/{id}".
func (s *ElabServer) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of requests received.
func (s *ElabServer) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// FailNext makes the next request on route answer with status.
func (s *ElabServer) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = status
}

// SetTeamID changes the team returned for teams/current; 0 omits the id.
func (s *ElabServer) SetTeamID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamID = id
}

// OmitHashes hides upload hashes from listings, like servers that do not
// expose them.
func (s *ElabServer) OmitHashes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitHashes = true
}

// AddExperiment seeds an experiment and returns its id.
func (s *ElabServer) AddExperiment(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newExperiment(title).ID
}

// Lock makes mutations of experiment id fail with 403.
func (s *ElabServer) Lock(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.experiments[id]; ok {
		exp.Locked = true
	}
}

// Experiment returns a copy of the stored experiment.
func (s *ElabServer) Experiment(id int) (FakeExperiment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return FakeExperiment{}, false
	}
	out := *exp
	out.Tags = append([]string(nil), exp.Tags...)
	out.Steps = append([]string(nil), exp.Steps...)
	out.Comments = append([]string(nil), exp.Comments...)
	out.Uploads = append([]FakeUpload(nil), exp.Uploads...)
	return out, true
}

// ActiveUploads returns the non archived uploads of experiment id.
func (s *ElabServer) ActiveUploads(id int) []FakeUpload {
	exp, _ := s.Experiment(id)
	var out []FakeUpload
	for _, u := range exp.Uploads {
		if !u.Archived {
			out = append(out, u)
		}
	}
	return out
}

type handlerFunc func(w http.ResponseWriter, r *http.Request)

// handle registers route under the API prefix with auth, call counting
// and failure injection. Handlers run with s.mu held.
func (s *ElabServer) handle(mux *http.ServeMux, route string, fn handlerFunc) {
	method, path, _ := strings.Cut(route, " ")
	mux.HandleFunc(method+" "+apiPrefix+path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.calls[route]++
		if r.Header.Get("Authorization") != FakeAPIKey {
			writeError(w, http.StatusUnauthorized, "No corresponding API key found!")
			return
		}
		if status, ok := s.failures[route]; ok {
			delete(s.failures, route)
			writeError(w, status, "injected failure")
			return
		}
		fn(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.Encode(w, v)
}

func writeError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, map[string]interface{}{
		"code":        status,
		"message":     http.StatusText(status),
		"description": description,
	})
}

func (s *ElabServer) created(w http.ResponseWriter, path string) {
	w.Header().Set("Location", s.URL+apiPrefix+path)
	w.WriteHeader(http.StatusCreated)
}

func (s *ElabServer) tick() string {
	s.clock = s.clock.Add(time.Second)
	return s.clock.Format("2006-01-02 15:04:05")
}

func (s *ElabServer) newExperiment(title string) *FakeExperiment {
	s.nextID++
	exp := &FakeExperiment{ID: s.nextID, Title: title, Status: 1}
	s.experiments[exp.ID] = exp
	return exp
}

func (s *ElabServer) lookup(w http.ResponseWriter, r *http.Request) (*FakeExperiment, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	exp, ok := s.experiments[id]
	if err != nil || !ok {
		writeError(w, http.StatusNotFound, "Nothing to show with this id")
		return nil, false
	}
	return exp, true
}

func (s *ElabServer) lookupWritable(w http.ResponseWriter, r *http.Request) (*FakeExperiment, bool) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	if exp.Locked {
		writeError(w, http.StatusForbidden, "This entity is locked")
		return nil, false
	}
	return exp, true
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	payload := map[string]interface{}{}
	if err := json.Decode(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return payload, true
}

func findItem(items []fakeItem, id int) (fakeItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return fakeItem{}, false
}

func (s *ElabServer) experimentJSON(exp *FakeExperiment) map[string]interface{} {
	cat, _ := findItem(s.categories, exp.Category)
	status, _ := findItem(s.statuses, exp.Status)
	out := map[string]interface{}{
		"id":             exp.ID,
		"title":          exp.Title,
		"body":           exp.Body,
		"category":       exp.Category,
		"category_title": cat.Title,
		"status":         exp.Status,
		"status_title":   status.Title,
		"locked":         0,
		"created_at":     "2025-04-16 15:00:00",
		"modified_at":    "2025-04-16 15:00:00",
	}
	if len(exp.Tags) > 0 {
		out["tags"] = strings.Join(exp.Tags, "|")
	} else {
		out["tags"] = nil
	}
	if exp.Locked {
		out["locked"] = 1
	}
	return out
}

func (s *ElabServer) createExperiment(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	title, _ := payload["title"].(string)
	body := ""
	if raw, ok := payload["template"].(float64); ok {
		tpl, found := findItem(s.templates, int(raw))
		if !found {
			writeError(w, http.StatusBadRequest, "Invalid template")
			return
		}
		title = tpl.Title
		body = "<p>" + tpl.Title + " procedure</p>"
	}
	if title == "" {
		title = "Untitled"
	}
	exp := s.newExperiment(title)
	exp.Body = body
	s.created(w, fmt.Sprintf("experiments/%d", exp.ID))
}

func (s *ElabServer) listExperiments(w http.ResponseWriter, _ *http.Request) {
	list := make([]map[string]interface{}, 0, len(s.experiments))
	for id := 101; id <= s.nextID; id++ {
		if exp, ok := s.experiments[id]; ok {
			list = append(list, s.experimentJSON(exp))
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *ElabServer) getExperiment(w http.ResponseWriter, r *http.Request) {
	if exp, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, s.experimentJSON(exp))
	}
}

func (s *ElabServer) patchExperiment(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if v, ok := payload["title"].(string); ok {
		exp.Title = v
	}
	if v, ok := payload["body"].(string); ok {
		exp.Body = v
	}
	if v, ok := payload["category"].(float64); ok {
		if _, found := findItem(s.categories, int(v)); !found {
			writeError(w, http.StatusBadRequest, "Invalid category")
			return
		}
		exp.Category = int(v)
	}
	if v, ok := payload["status"].(float64); ok {
		if _, found := findItem(s.statuses, int(v)); !found {
			writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		exp.Status = int(v)
	}
	writeJSON(w, http.StatusOK, s.experimentJSON(exp))
}

func (s *ElabServer) tagID(name string) int {
	id, ok := s.tagIDs[name]
	if !ok {
		id = len(s.tagIDs) + 1
		s.tagIDs[name] = id
	}
	return id
}

func (s *ElabServer) listTags(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	list := make([]map[string]interface{}, 0, len(exp.Tags))
	for _, name := range exp.Tags {
		list = append(list, map[string]interface{}{"tag_id": s.tagID(name), "tag": name, "is_favorite": 0})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *ElabServer) addTag(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	name, _ := payload["tag"].(string)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Tag is empty")
		return
	}
	exp.Tags = append(exp.Tags, name)
	s.created(w, fmt.Sprintf("experiments/%d/tags/%d", exp.ID, s.tagID(name)))
}

func (s *ElabServer) clearTags(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	exp.Tags = nil
	w.WriteHeader(http.StatusNoContent)
}

func (s *ElabServer) unreferenceTag(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if payload["action"] != "unreference" {
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	tagID, _ := strconv.Atoi(r.PathValue("tag"))
	kept := exp.Tags[:0]
	removed := false
	for _, name := range exp.Tags {
		if s.tagIDs[name] == tagID {
			removed = true
			continue
		}
		kept = append(kept, name)
	}
	exp.Tags = kept
	if !removed {
		writeError(w, http.StatusNotFound, "Tag not found")
		return
	}
	writeJSON(w, http.StatusOK, []interface{}{})
}

func (s *ElabServer) listSteps(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	list := make([]map[string]interface{}, 0, len(exp.Steps))
	for i, body := range exp.Steps {
		list = append(list, map[string]interface{}{"id": i + 1, "body": body, "finished": 0})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *ElabServer) addStep(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	body, _ := payload["body"].(string)
	exp.Steps = append(exp.Steps, body)
	s.created(w, fmt.Sprintf("experiments/%d/steps/%d", exp.ID, len(exp.Steps)))
}

func (s *ElabServer) listComments(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	list := make([]map[string]interface{}, 0, len(exp.Comments))
	for i, comment := range exp.Comments {
		list = append(list, map[string]interface{}{"id": i + 1, "comment": comment})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *ElabServer) addComment(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	payload, ok := decodeBody(w, r)
	if !ok {
		return
	}
	comment, _ := payload["comment"].(string)
	exp.Comments = append(exp.Comments, comment)
	s.created(w, fmt.Sprintf("experiments/%d/comments/%d", exp.ID, len(exp.Comments)))
}

func (s *ElabServer) uploadJSON(u FakeUpload) map[string]interface{} {
	out := map[string]interface{}{
		"id":         u.ID,
		"real_name":  u.RealName,
		"long_name":  fmt.Sprintf("%x/%s", u.ID, u.RealName),
		"comment":    u.Comment,
		"filesize":   len(u.Content),
		"created_at": u.CreatedAt,
		"state":      1,
	}
	if !s.omitHashes {
		out["hash"] = u.Hash
		out["hash_algorithm"] = "sha256"
	}
	return out
}

func (s *ElabServer) listUploads(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	list := make([]map[string]interface{}, 0, len(exp.Uploads))
	for _, u := range exp.Uploads {
		if !u.Archived {
			list = append(list, s.uploadJSON(u))
		}
	}
	writeJSON(w, http.StatusOK, list)
}

// readUpload parses the multipart form of an upload request.
func (s *ElabServer) readUpload(w http.ResponseWriter, r *http.Request) (FakeUpload, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return FakeUpload{}, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file")
		return FakeUpload{}, false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable file")
		return FakeUpload{}, false
	}
	sum := sha256.Sum256(content)

	s.nextID++
	return FakeUpload{
		ID:        s.nextID,
		RealName:  header.Filename,
		Comment:   r.FormValue("comment"),
		Hash:      hex.EncodeToString(sum[:]),
		Content:   content,
		CreatedAt: s.tick(),
	}, true
}

func (s *ElabServer) createUpload(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	exp.Uploads = append(exp.Uploads, upload)
	s.created(w, fmt.Sprintf("experiments/%d/uploads/%d", exp.ID, upload.ID))
}

func (s *ElabServer) findUpload(w http.ResponseWriter, r *http.Request, exp *FakeExperiment) int {
	id, _ := strconv.Atoi(r.PathValue("upload"))
	for i, u := range exp.Uploads {
		if u.ID == id && !u.Archived {
			return i
		}
	}
	writeError(w, http.StatusNotFound, "Upload not found")
	return -1
}

func (s *ElabServer) getUpload(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	i := s.findUpload(w, r, exp)
	if i < 0 {
		return
	}
	upload := exp.Uploads[i]
	if r.URL.Query().Get("format") == "binary" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(upload.Content)
		return
	}
	writeJSON(w, http.StatusOK, s.uploadJSON(upload))
}

func (s *ElabServer) replaceUpload(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.lookupWritable(w, r)
	if !ok {
		return
	}
	i := s.findUpload(w, r, exp)
	if i < 0 {
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	upload.RealName = exp.Uploads[i].RealName
	exp.Uploads[i].Archived = true
	exp.Uploads = append(exp.Uploads, upload)
	s.created(w, fmt.Sprintf("experiments/%d/uploads/%d", exp.ID, upload.ID))
}

func (s *ElabServer) getTeam(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("id")
	if team != "current" && team != strconv.Itoa(s.teamID) {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	out := map[string]interface{}{"name": "Quantum Lab"}
	if s.teamID > 0 {
		out["id"] = s.teamID
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *ElabServer) listCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.categories)
}

func (s *ElabServer) listStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses)
}

func (s *ElabServer) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.templates)
}
