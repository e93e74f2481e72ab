package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/elabmate/pkg/elab"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
	elabtest "github.com/ajitpratap0/elabmate/pkg/testutil"
)

type BridgeSuite struct {
	suite.Suite

	server   *elabtest.ElabServer
	client   *elab.Client
	registry *prometheus.Registry
	bridge   *Bridge
	ctx      context.Context
	dir      string
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func (s *BridgeSuite) SetupTest() {
	t := s.T()
	s.server = elabtest.NewElabServer(t)
	s.registry = prometheus.NewRegistry()

	client, err := elab.New(s.server.Config(), elab.WithLogger(elabtest.TestLogger(t)))
	s.Require().NoError(err)
	t.Cleanup(func() { _ = client.Close() })
	s.client = client

	s.bridge = New(client,
		WithLogger(elabtest.TestLogger(t)),
		WithMetrics(metrics.NewCollector(s.registry)))
	s.ctx = elabtest.TestContext(t)
	s.dir = filepath.Join(t.TempDir(), "Cooldown 12")
	s.Require().NoError(os.MkdirAll(s.dir, 0o755))
}

func (s *BridgeSuite) write(name, content string) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *BridgeSuite) stored(acquisitionID string) elabtest.FakeExperiment {
	exp := s.bridge.Experiment(acquisitionID)
	s.Require().NotNil(exp)
	stored, ok := s.server.Experiment(exp.ID())
	s.Require().True(ok)
	return stored
}

func (s *BridgeSuite) assertActive(n int) {
	expected := fmt.Sprintf(`
# HELP elabmate_active_acquisitions Acquisitions currently bound to an experiment
# TYPE elabmate_active_acquisitions gauge
elabmate_active_acquisitions %d
`, n)
	s.NoError(testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "elabmate_active_acquisitions"))
}

func uploadNames(uploads []elabtest.FakeUpload) []string {
	names := make([]string, 0, len(uploads))
	for _, u := range uploads {
		names = append(names, u.RealName)
	}
	sort.Strings(names)
	return names
}

func (s *BridgeSuite) TestStartCreatesAndAppliesMetadata() {
	acq := Acquisition{
		ID:             "run-1",
		ExperimentName: "Cooldown 12",
		Body:           "<p>base temperature run</p>",
		Category:       "Measurement",
		Status:         "Running",
		Tags:           []string{"cryo", "fridge-2"},
	}
	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, acq))

	stored := s.stored("run-1")
	s.Equal("Cooldown 12", stored.Title)
	s.Equal("<p>base temperature run</p>", stored.Body)
	s.Equal(1, stored.Category)
	s.Equal(1, stored.Status)
	s.ElementsMatch([]string{"cryo", "fridge-2"}, stored.Tags)
	s.Equal([]string{"run-1"}, s.bridge.Acquisitions())
	s.assertActive(1)
}

func (s *BridgeSuite) TestStartTwiceIsNoop() {
	acq := Acquisition{ID: "run-1", ExperimentName: "Cooldown 12"}
	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, acq))
	calls := s.server.TotalCalls()

	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, acq))
	s.Equal(calls, s.server.TotalCalls())
}

func (s *BridgeSuite) TestStartByExperimentID() {
	id := s.server.AddExperiment("Existing")
	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentID: id}))

	s.Equal(id, s.bridge.Experiment("run-1").ID())
	s.Zero(s.server.Calls("POST experiments"))
}

func (s *BridgeSuite) TestStartDuplicateTitleLoadsExisting() {
	cfg := s.server.Config()
	cfg.UniqueExperimentTitles = true
	client, err := elab.New(cfg, elab.WithLogger(elabtest.TestLogger(s.T())))
	s.Require().NoError(err)
	defer client.Close()

	id := s.server.AddExperiment("Cooldown 12")
	b := New(client, WithLogger(elabtest.TestLogger(s.T())))
	s.Require().NoError(b.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Cooldown 12"}))

	s.Equal(id, b.Experiment("run-1").ID())
	s.Zero(s.server.Calls("POST experiments"))
}

func (s *BridgeSuite) TestResolverTakesPrecedence() {
	id := s.server.AddExperiment("Picked")
	var seen Acquisition
	b := New(s.client, WithResolver(func(ctx context.Context, acq Acquisition) (*elab.Experiment, error) {
		seen = acq
		return s.client.GetExperiment(ctx, id)
	}))

	s.Require().NoError(b.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Other"}))
	s.Equal(id, b.Experiment("run-1").ID())
	s.Equal("run-1", seen.ID)
	s.Zero(s.server.Calls("POST experiments"))
}

func (s *BridgeSuite) TestResolverFallsThrough() {
	b := New(s.client, WithResolver(func(context.Context, Acquisition) (*elab.Experiment, error) {
		return nil, nil
	}))

	s.Require().NoError(b.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Fresh"}))
	s.Equal("Fresh", b.Experiment("run-1").Title())
}

func (s *BridgeSuite) TestStartWithoutTitle() {
	err := s.bridge.StartAcquisition(s.ctx, Acquisition{})
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
	s.Zero(s.server.TotalCalls())
}

func (s *BridgeSuite) TestStartUnknownCategoryCreatesNothing() {
	acq := Acquisition{ID: "run-1", ExperimentName: "Orphan", Category: "NoSuchCategory"}
	for i := 0; i < 2; i++ {
		err := s.bridge.StartAcquisition(s.ctx, acq)
		s.True(errors.IsType(err, errors.ErrorTypeNotFound), "attempt %d: %v", i, err)
	}

	s.Zero(s.server.Calls("POST experiments"))
	s.Empty(s.bridge.Acquisitions())
	s.assertActive(0)
}

func (s *BridgeSuite) TestStartUnknownStatusLeavesExperimentUntouched() {
	id := s.server.AddExperiment("Existing")
	err := s.bridge.StartAcquisition(s.ctx, Acquisition{
		ID:           "run-1",
		ExperimentID: id,
		Body:         "<p>new body</p>",
		Status:       "NoSuchStatus",
	})
	s.True(errors.IsType(err, errors.ErrorTypeNotFound))

	s.Zero(s.server.Calls("PATCH experiments/{id}"))
	stored, ok := s.server.Experiment(id)
	s.Require().True(ok)
	s.Empty(stored.Body)
	s.Nil(s.bridge.Experiment("run-1"))
}

func (s *BridgeSuite) TestStartEmptyTagCreatesNothing() {
	err := s.bridge.StartAcquisition(s.ctx, Acquisition{
		ID:             "run-1",
		ExperimentName: "Cooldown 12",
		Tags:           []string{"cryo", " "},
	})
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
	s.Zero(s.server.Calls("POST experiments"))
}

func (s *BridgeSuite) TestStartRetryReusesCreatedExperiment() {
	acq := Acquisition{
		ID:             "run-1",
		ExperimentName: "Cooldown 12",
		Category:       "Calibration",
		Tags:           []string{"cryo"},
	}
	s.server.FailNext("POST experiments/{id}/tags", 500)
	err := s.bridge.StartAcquisition(s.ctx, acq)
	s.True(errors.IsType(err, errors.ErrorTypeRemote))
	s.Nil(s.bridge.Experiment("run-1"))

	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, acq))
	s.Equal(1, s.server.Calls("POST experiments"))

	stored := s.stored("run-1")
	s.Equal(2, stored.Category)
	s.Equal([]string{"cryo"}, stored.Tags)
	s.assertActive(1)
}

func (s *BridgeSuite) TestHandleEvents() {
	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Cooldown 12"}))
	data := s.write("trace.csv", "t,v\n0,1\n")

	for _, ev := range []Event{
		{Kind: EventStep, Text: "sweep started"},
		{Kind: EventComment, Text: "noise looks fine"},
		{Kind: EventText, Text: "<p>updated</p>"},
		{Kind: EventTag, Text: "sweep"},
		{Kind: EventFile, Path: data},
	} {
		s.Require().NoError(s.bridge.HandleEvent(s.ctx, "run-1", ev), ev.Kind)
	}

	stored := s.stored("run-1")
	s.Equal([]string{"sweep started"}, stored.Steps)
	s.Equal([]string{"noise looks fine"}, stored.Comments)
	s.Equal("<p>updated</p>", stored.Body)
	s.Equal([]string{"sweep"}, stored.Tags)
	s.Len(s.server.ActiveUploads(stored.ID), 1)
}

func (s *BridgeSuite) TestHandleEventErrors() {
	err := s.bridge.HandleEvent(s.ctx, "nope", Event{Kind: EventStep, Text: "x"})
	s.True(errors.IsType(err, errors.ErrorTypeNotFound))

	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Cooldown 12"}))
	err = s.bridge.HandleEvent(s.ctx, "run-1", Event{Kind: "explode"})
	s.True(errors.IsType(err, errors.ErrorTypeValidation))

	err = s.bridge.HandleEvent(s.ctx, "run-1", Event{Kind: EventFile, Path: filepath.Join(s.dir, "missing.h5")})
	s.True(errors.IsType(err, errors.ErrorTypeFileNotFound))
}

func (s *BridgeSuite) TestEndAcquisition() {
	s.Require().NoError(s.bridge.StartAcquisition(s.ctx, Acquisition{ID: "run-1", ExperimentName: "Cooldown 12"}))
	s.Require().NoError(s.bridge.EndAcquisition(s.ctx, "run-1"))

	s.Nil(s.bridge.Experiment("run-1"))
	s.Empty(s.bridge.Acquisitions())
	s.assertActive(0)

	err := s.bridge.EndAcquisition(s.ctx, "run-1")
	s.True(errors.IsType(err, errors.ErrorTypeNotFound))
}

func (s *BridgeSuite) TestSaveSnapshotUploadsDataAndFigures() {
	data := s.write("scan.h5", "data-v1")
	s.write("scan_FIG1.png", "fig1")
	s.write("scan_FIG0.png", "fig0")
	s.write("other_FIG0.png", "unrelated")

	acq := Acquisition{Filepath: filepath.Join(s.dir, "scan")}
	s.Require().NoError(s.bridge.SaveSnapshot(s.ctx, acq))

	exp := s.bridge.Experiment("Cooldown 12")
	s.Require().NotNil(exp)
	s.Equal("Cooldown 12", exp.Title())

	names := uploadNames(s.server.ActiveUploads(exp.ID()))
	s.Equal([]string{"scan.h5", "scan_FIG0.png", "scan_FIG1.png"}, names)

	// unchanged files are skipped, changed ones replaced
	s.Require().NoError(s.bridge.SaveSnapshot(s.ctx, acq))
	s.Require().NoError(os.WriteFile(data, []byte("data-v2"), 0o600))
	s.Require().NoError(s.bridge.SaveSnapshot(s.ctx, acq))

	stored, _ := s.server.Experiment(exp.ID())
	s.Len(stored.Uploads, 4)
	s.Len(s.server.ActiveUploads(exp.ID()), 3)
	s.Equal(1, s.server.Calls("POST experiments"))

	expected := `
# HELP elabmate_snapshots_total Acquisition snapshots saved to eLabFTW
# TYPE elabmate_snapshots_total counter
elabmate_snapshots_total{status="ok"} 3
`
	s.NoError(testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "elabmate_snapshots_total"))
}

func (s *BridgeSuite) TestSaveSnapshotFailureIsCounted() {
	s.write("scan.h5", "data")

	id := s.server.AddExperiment("Cooldown 12")
	s.server.Lock(id)
	err := s.bridge.SaveSnapshot(s.ctx, Acquisition{ID: "run-1", ExperimentID: id, Filepath: filepath.Join(s.dir, "scan.h5")})
	s.Equal(403, errors.StatusCode(err))

	expected := `
# HELP elabmate_snapshots_total Acquisition snapshots saved to eLabFTW
# TYPE elabmate_snapshots_total counter
elabmate_snapshots_total{status="error"} 1
`
	s.NoError(testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "elabmate_snapshots_total"))
}

func (s *BridgeSuite) TestLoadSnapshotIsNoop() {
	s.NoError(s.bridge.LoadSnapshot(s.ctx, Acquisition{ID: "run-1"}))
	s.Zero(s.server.TotalCalls())
}

func (s *BridgeSuite) TestEnsureLocalFile() {
	id := s.server.AddExperiment("Cooldown 12")
	exp, err := s.client.GetExperiment(s.ctx, id)
	s.Require().NoError(err)
	src := s.write("scan.h5", "payload")
	_, err = exp.UploadFile(s.ctx, src)
	s.Require().NoError(err)
	s.Require().NoError(os.Remove(src))

	ok, err := s.bridge.EnsureLocalFile(s.ctx, src)
	s.Require().NoError(err)
	s.True(ok)
	content, err := os.ReadFile(src)
	s.Require().NoError(err)
	s.Equal("payload", string(content))

	calls := s.server.TotalCalls()
	ok, err = s.bridge.EnsureLocalFile(s.ctx, src)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(calls, s.server.TotalCalls())

	ok, err = s.bridge.EnsureLocalFile(s.ctx, filepath.Join(s.dir, "absent.h5"))
	s.NoError(err)
	s.False(ok)
}

func (s *BridgeSuite) TestEnsureLocalFileUnknownExperiment() {
	_, err := s.bridge.EnsureLocalFile(s.ctx, filepath.Join(s.T().TempDir(), "Nowhere", "scan.h5"))
	s.True(errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestAttachments(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
		mt := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mt, mt))
		return path
	}

	t.Run("explicit extension", func(t *testing.T) {
		csv := touch("sweep.csv", 0)
		fig := touch("sweep.csv_FIG0.png", 0)
		got, err := Attachments(csv)
		require.NoError(t, err)
		assert.Equal(t, []string{csv, fig}, got)
	})

	t.Run("newest sibling stands in", func(t *testing.T) {
		touch("ramp_1.h5", time.Hour)
		newest := touch("ramp_2.h5", time.Minute)
		touch("ramp_3.txt", 0)
		got, err := Attachments(filepath.Join(dir, "ramp"))
		require.NoError(t, err)
		assert.Equal(t, []string{newest}, got)
	})

	t.Run("nothing found", func(t *testing.T) {
		got, err := Attachments(filepath.Join(dir, "ghost"))
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = Attachments("")
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = Attachments(filepath.Join(dir, "no-such-dir", "x.h5"))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAcquisitionKeyAndTitle(t *testing.T) {
	acq := Acquisition{Filepath: filepath.Join("data", "Cooldown 12", "scan")}
	assert.Equal(t, "Cooldown 12", acq.Title())
	assert.Equal(t, "Cooldown 12", acq.Key())

	acq.ExperimentName = "Named"
	acq.ID = "run-9"
	assert.Equal(t, "Named", acq.Title())
	assert.Equal(t, "run-9", acq.Key())
}
