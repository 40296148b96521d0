package orchestrator

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/downloader"
	"go-icloud-backup/internal/models"
)

// fetchJob is one unit of work for the pool: a planned item bound to its
// resolved (possibly disambiguated) target path.
type fetchJob struct {
	item     models.PlannedItem
	path     string
	conflict bool
}

// fetchOutcome is what a worker reports back to the aggregator.
type fetchOutcome struct {
	job     fetchJob
	attempt int
	result  downloader.Result
	err     error
}

// startWorkers launches the bounded fetch pool. Workers pull jobs, run one
// fetch-and-write each and report to the aggregator; they never touch shared
// counters, only channels. The attempt counter is bumped by the tracker here
// so the outcome carries its own attempt number.
func (o *Orchestrator) startWorkers(ctx context.Context, jobs <-chan fetchJob, outcomes chan<- fetchOutcome, workers int) *sync.WaitGroup {
	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log.Debugf("Worker %d starting", id)
			for {
				select {
				case <-ctx.Done():
					log.Debugf("Worker %d stopping: run canceled", id)
					return
				case job, ok := <-jobs:
					if !ok {
						log.Debugf("Worker %d finished", id)
						return
					}
					attempt := o.tracker.StartAttempt(job.item.Asset.Key())
					result, err := o.fetcher.FetchItem(ctx, job.item, job.path, o.emit)
					select {
					case outcomes <- fetchOutcome{job: job, attempt: attempt, result: result, err: err}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(w)
	}
	return &wg
}
