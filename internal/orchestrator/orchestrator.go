// Package orchestrator drives a backup run end to end: preflight, catalog
// build, live photo pairing, path planning, dedup filtering, the bounded
// fetch pool with retry draining, and the final report.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/catalog"
	"go-icloud-backup/internal/dedup"
	"go-icloud-backup/internal/downloader"
	"go-icloud-backup/internal/livephoto"
	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/planner"
	"go-icloud-backup/internal/retry"
	"go-icloud-backup/internal/source"
)

// AssetIndexer receives every completed asset, e.g. to feed a search index.
type AssetIndexer interface {
	IndexAsset(item models.PlannedItem, resolvedPath string) error
}

// Orchestrator wires the pipeline together. Source and Cfg are required;
// Indexer and OnProgress are optional.
type Orchestrator struct {
	Cfg        models.Config
	Source     source.AssetSource
	Indexer    AssetIndexer
	OnProgress func(models.ProgressEvent)

	root    string
	index   *dedup.Index
	tracker *retry.Tracker
	fetcher *downloader.Fetcher
	events  chan models.ProgressEvent
}

// Run executes one backup run. Item-scoped failures end up in the report;
// only run-scoped errors (preflight failures, revoked auth, a catalog with no
// usable partition, cancellation) are returned and should change the exit
// status. The dedup index and the report are flushed even on fatal paths, so
// completed work survives.
func (o *Orchestrator) Run(ctx context.Context) (models.RunReport, error) {
	report := models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	root, err := o.resolveRoot()
	if err != nil {
		return o.finish(report, err)
	}
	o.root = root
	log.Infof("Backing up to %s", root)

	if err := checkWritable(root); err != nil {
		return o.finish(report, err)
	}

	// One run per output root at a time; two concurrent writers would race
	// on the dedup index and the claim set.
	runLock := flock.New(filepath.Join(root, ".backup.lock"))
	locked, err := runLock.TryLock()
	if err != nil {
		return o.finish(report, fmt.Errorf("acquiring run lock: %w", err))
	}
	if !locked {
		return o.finish(report, fmt.Errorf("another backup run holds the lock on %s", root))
	}
	defer func() {
		if err := runLock.Unlock(); err != nil {
			log.WithError(err).Warn("Could not release run lock")
		}
	}()

	sel := catalog.Selection{
		Personal:     true,
		SharedWithMe: o.Cfg.Options.DownloadShared,
		SharedAlbums: o.Cfg.Options.DownloadAlbums,
	}
	cat, err := catalog.Build(ctx, o.Source, sel)
	if err != nil {
		return o.finish(report, err)
	}
	report.Unsupported = cat.Unsupported
	report.PartitionErrors = cat.PartitionErrors
	if len(cat.Records) == 0 && len(cat.PartitionErrors) > 0 {
		return o.finish(report, fmt.Errorf("%w: no partition could be enumerated", source.ErrSourceUnavailable))
	}
	log.Infof("Catalog built: %d assets, %d unsupported skipped", len(cat.Records), cat.Unsupported)

	if err := checkSpace(root, o.Cfg.Download.RequiredSpaceGB, catalog.TotalDeclaredSize(cat.Records)); err != nil {
		return o.finish(report, err)
	}

	dbPath := o.Cfg.Download.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(root, ".backup_index")
	}
	o.index, err = dedup.Open(dbPath, root)
	if err != nil {
		return o.finish(report, err)
	}
	defer func() {
		if closeErr := o.index.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing dedup index")
		}
	}()

	ledgerPath := o.Cfg.Download.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(root, "failure_ledger.jsonl")
	}
	o.tracker = retry.NewTracker(o.Cfg.Performance.MaxRetries, ledgerPath)
	o.fetcher = &downloader.Fetcher{
		Source:           o.Source,
		Root:             root,
		PreserveMetadata: o.Cfg.Options.PreserveMetadata,
		FetchTimeout:     time.Duration(o.Cfg.Performance.FetchTimeoutSec) * time.Second,
	}

	// Single forwarder goroutine: workers emit events, the presentation
	// layer consumes them. No shared counters cross goroutines.
	o.events = make(chan models.ProgressEvent, 256)
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for ev := range o.events {
			if o.OnProgress != nil {
				o.OnProgress(ev)
			}
		}
	}()
	defer func() {
		close(o.events)
		<-forwarderDone
	}()

	groups := livephoto.Pair(cat.Records, o.Cfg.Options.HandleLivePhotos)
	planned := make([][]models.PlannedItem, 0, len(groups))
	for _, g := range groups {
		items := planner.PlanGroup(g)
		planned = append(planned, items)
		for _, item := range items {
			o.emit(models.ProgressEvent{ItemID: item.Asset.Key(), Phase: models.PhaseEnumerated, TotalBytes: item.Asset.SizeBytes})
		}
	}

	var toFetch []fetchJob
	for _, group := range planned {
		// Pair members resolve jointly so a collision moves both siblings to
		// the same suffix and their shared filename stem survives.
		if len(group) == 2 {
			pr, err := o.index.ResolvePair(group[0], group[1])
			if err != nil {
				return o.finish(report, fmt.Errorf("dedup index failure: %w", err))
			}
			group[0].SiblingPath = pr.MotionPath
			group[1].SiblingPath = pr.ImagePath
			toFetch = o.applyDecision(group[0], pr.Image, pr.ImagePath, toFetch, &report)
			toFetch = o.applyDecision(group[1], pr.Motion, pr.MotionPath, toFetch, &report)
			continue
		}
		for _, item := range group {
			decision, path, err := o.index.Resolve(item)
			if err != nil {
				return o.finish(report, fmt.Errorf("dedup index failure: %w", err))
			}
			toFetch = o.applyDecision(item, decision, path, toFetch, &report)
		}
	}
	log.Infof("%d to fetch, %d duplicates skipped, %d conflicts disambiguated",
		len(toFetch), report.SkippedDuplicate, report.Conflicts)

	fatalErr := o.drain(ctx, toFetch, &report)

	if err := o.index.Sync(); err != nil {
		log.WithError(err).Error("Error flushing dedup index")
	}
	report.Failures = o.tracker.Failures()
	return o.finish(report, fatalErr)
}

// applyDecision turns one dedup decision into counters and events, and for
// fetched items appends the pool job.
func (o *Orchestrator) applyDecision(item models.PlannedItem, decision dedup.Decision, path string, toFetch []fetchJob, report *models.RunReport) []fetchJob {
	switch decision {
	case dedup.Skip:
		report.SkippedDuplicate++
		report.Partition(item.Asset.Partition.String()).Skipped++
		o.emit(models.ProgressEvent{ItemID: item.Asset.Key(), Phase: models.PhaseSkipped, TotalBytes: item.Asset.SizeBytes})
		return toFetch
	case dedup.Conflict:
		report.Conflicts++
		log.Warnf("Path conflict: %s occupied by different content, using %s", item.TargetPath, path)
		return append(toFetch, fetchJob{item: item, path: path, conflict: true})
	default:
		return append(toFetch, fetchJob{item: item, path: path})
	}
}

// drain drives the worker pool until no Pending or Retrying items remain, or
// a fatal error / cancellation stops the run.
func (o *Orchestrator) drain(ctx context.Context, toFetch []fetchJob, report *models.RunReport) error {
	if len(toFetch) == 0 {
		return nil
	}

	workers := o.Cfg.Performance.MaxConcurrentDownloads
	if workers <= 0 {
		workers = 4
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan fetchJob, len(toFetch))
	outcomes := make(chan fetchOutcome)
	wg := o.startWorkers(runCtx, jobs, outcomes, workers)

	for _, j := range toFetch {
		if err := o.index.MarkPending(j.path, j.item.Asset.SizeBytes); err != nil {
			log.WithError(err).Warnf("Could not mark %s pending", j.path)
		}
		jobs <- j
	}

	var fatalErr error
	outstanding := len(toFetch)
	for outstanding > 0 {
		select {
		case <-runCtx.Done():
			fatalErr = runCtx.Err()
			outstanding = 0
		case out := <-outcomes:
			if out.err == nil {
				o.completeItem(out, report)
				outstanding--
				continue
			}
			next, wait := o.tracker.Fail(out.job.item, out.job.path, out.err)
			switch next {
			case retry.Retry:
				log.WithError(out.err).Warnf("Attempt %d for %s failed, retrying in %s", out.attempt, out.job.item.Asset.Key(), wait)
				o.emit(models.ProgressEvent{ItemID: out.job.item.Asset.Key(), Phase: models.PhaseRetrying, TotalBytes: out.job.item.Asset.SizeBytes})
				job := out.job
				time.AfterFunc(wait, func() {
					select {
					case jobs <- job:
					case <-runCtx.Done():
					}
				})
			case retry.Terminal:
				log.WithError(out.err).Errorf("Giving up on %s after %d attempt(s)", out.job.item.Asset.Key(), out.attempt)
				o.index.Release(out.job.path)
				report.FailedTerminal++
				report.Partition(out.job.item.Asset.Partition.String()).Failed++
				o.emit(models.ProgressEvent{ItemID: out.job.item.Asset.Key(), Phase: models.PhaseFailedTerminal, TotalBytes: out.job.item.Asset.SizeBytes})
				outstanding--
			case retry.Fatal:
				log.WithError(out.err).Error("Fatal error, aborting run")
				report.FailedTerminal++
				report.Partition(out.job.item.Asset.Partition.String()).Failed++
				o.emit(models.ProgressEvent{ItemID: out.job.item.Asset.Key(), Phase: models.PhaseFailedTerminal, TotalBytes: out.job.item.Asset.SizeBytes})
				fatalErr = out.err
				outstanding = 0
			}
		}
	}

	if fatalErr != nil {
		cancel()
	} else {
		close(jobs)
	}
	wg.Wait()
	return fatalErr
}

// completeItem commits a successful write: dedup entry first, then the
// optional search index, then the report counters.
func (o *Orchestrator) completeItem(out fetchOutcome, report *models.RunReport) {
	if err := o.index.Commit(out.job.path, out.result.Fingerprint, out.result.Bytes); err != nil {
		log.WithError(err).Errorf("Could not commit dedup entry for %s", out.job.path)
	}
	if o.Indexer != nil {
		if err := o.Indexer.IndexAsset(out.job.item, out.job.path); err != nil {
			log.WithError(err).Warnf("Could not index %s", out.job.path)
		}
	}
	report.Fetched++
	report.BytesTransferred += out.result.Bytes
	report.Partition(out.job.item.Asset.Partition.String()).Fetched++
	o.emit(models.ProgressEvent{
		ItemID:     out.job.item.Asset.Key(),
		Phase:      models.PhaseWritten,
		BytesSoFar: out.result.Bytes,
		TotalBytes: out.job.item.Asset.SizeBytes,
	})
}

// emit forwards one progress event to the aggregator channel.
func (o *Orchestrator) emit(ev models.ProgressEvent) {
	if o.events != nil {
		o.events <- ev
	}
}

// resolveRoot applies the timestamp-folder option to the configured path.
func (o *Orchestrator) resolveRoot() (string, error) {
	root := o.Cfg.Download.DefaultPath
	if root == "" {
		return "", fmt.Errorf("download.default_path is not configured")
	}
	if o.Cfg.Download.CreateTimestampFolder {
		root = filepath.Join(root, "backup_"+time.Now().Format("20060102_150405"))
	}
	return root, nil
}

// finish stamps the end time, records any fatal error and writes the report.
func (o *Orchestrator) finish(report models.RunReport, fatalErr error) (models.RunReport, error) {
	report.FinishedAt = time.Now()
	if fatalErr != nil {
		report.FatalError = fatalErr.Error()
	}
	if o.root != "" {
		if err := writeReport(o.root, report); err != nil {
			log.WithError(err).Error("Could not write run report")
		}
	}
	logSummary(report)
	return report, fatalErr
}
