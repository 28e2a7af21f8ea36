package deploy

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/stores"
)

// scheduler executes one apply run level by level, dispatching independent
// definitions of a level on a bounded worker pool.
type scheduler struct {
	service         *Service
	graph           *Graph
	resolver        *engine.RemoteTargetResolver
	runID           string
	dryRun          bool
	parallelism     int
	continueOnError bool

	mu       sync.RWMutex
	outcomes map[string]*Outcome
}

// run returns the outcomes in execution order.
func (s *scheduler) run(ctx context.Context) []*Outcome {
	var ordered []*Outcome
	aborted := ""

	for level, ids := range s.graph.Levels() {
		if aborted == "" && ctx.Err() != nil {
			aborted = "run cancelled"
		}

		if aborted != "" {
			for _, id := range ids {
				def := s.graph.Definition(id)
				reason := aborted
				if failed := s.failedDependency(def); failed != "" {
					reason = fmt.Sprintf("dependency %s was not applied", failed)
				}
				s.save(s.service.skip(ctx, &s.runID, def, reason, s.dryRun))
			}
		} else {
			s.service.logger.WithRunID(s.runID).Zerolog().Debug().
				Int("level", level).
				Int("definitions", len(ids)).
				Msg("Executing level")
			s.executeLevel(ctx, ids)

			if !s.continueOnError && s.levelFailed(ids) {
				aborted = fmt.Sprintf("run stopped after failure at level %d", level)
			}
		}

		for _, id := range ids {
			ordered = append(ordered, s.outcome(id))
		}
	}

	return ordered
}

func (s *scheduler) executeLevel(ctx context.Context, ids []string) {
	workerCount := s.parallelism
	if len(ids) < workerCount {
		workerCount = len(ids)
	}

	workQueue := make(chan *config.Definition, len(ids))
	for _, id := range ids {
		workQueue <- s.graph.Definition(id)
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for def := range workQueue {
				if ctx.Err() != nil {
					s.save(s.service.skip(ctx, &s.runID, def, "run cancelled", s.dryRun))
					continue
				}
				if failed := s.failedDependency(def); failed != "" {
					s.save(s.service.skip(ctx, &s.runID, def,
						fmt.Sprintf("dependency %s was not applied", failed), s.dryRun))
					continue
				}
				s.save(s.service.dispatch(ctx, s.resolver, &s.runID, def, s.dryRun))
			}
		}()
	}

	wg.Wait()
}

// failedDependency returns the first dependency that did not succeed.
func (s *scheduler) failedDependency(def *config.Definition) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, dep := range def.DependsOn {
		o, ok := s.outcomes[dep]
		if !ok || o.Status != stores.DispatchSucceeded {
			return dep
		}
	}
	return ""
}

func (s *scheduler) levelFailed(ids []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		switch s.outcomes[id].Status {
		case stores.DispatchFailed, stores.DispatchDenied:
			return true
		}
	}
	return false
}

func (s *scheduler) save(o *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.DefinitionID] = o
}

func (s *scheduler) outcome(id string) *Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcomes[id]
}
