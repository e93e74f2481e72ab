// Package elabmate connects Labmate data acquisition to the eLabFTW
// electronic lab notebook.
//
// The module is organised in layers:
//
//   - pkg/config reads elab_server.conf (KEY=VALUE lines, ELAB_* environment
//     overrides) into a validated Config.
//   - pkg/clients and pkg/elabapi build the authenticated HTTP session and
//     expose the eLabFTW v2 REST resources one call per request.
//   - pkg/elab is the convenience layer: a Client resolving the team,
//     categories, statuses and templates by name, and Experiment handles
//     whose setters are pushed to the server immediately. Uploads are
//     idempotent: identical content is never transferred twice.
//   - pkg/bridge implements the Labmate acquisition backend, binding each
//     acquisition to an experiment and saving snapshots of its data file
//     and figures.
//   - internal/watcher turns files appearing in the Labmate data directory
//     into bridge snapshots.
//
// # Quick Start
//
//	client, err := elab.NewFromFile("elab_server.conf")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	exp, err := client.CreateExperiment(ctx, "Cooldown 12",
//	    elab.WithCategory("Measurement"), elab.WithStatus("Running"))
//	if err != nil {
//	    return err
//	}
//	_ = exp.AddTag(ctx, "cryo")
//	outcome, err := exp.UploadFile(ctx, "/data/Cooldown 12/scan.h5")
//
// The elabmate command wraps the same operations:
//
//	elabmate experiment create "Cooldown 12" --category Measurement --tag cryo
//	elabmate experiment upload "Cooldown 12" scan.h5
//	elabmate watch --metrics-addr :9102
//
// # Errors
//
// Every failure is an *errors.Error classified by errors.ErrorType:
// configuration, authentication, resolution, not found, duplicate title,
// missing local file, remote (with the HTTP status), validation, connection
// and undecodable data. Nothing is retried.
package elabmate
