package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/iamdeploy/pkg/channel"
	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/policy"
	"github.com/openfroyo/iamdeploy/pkg/stores"
	"github.com/openfroyo/iamdeploy/pkg/telemetry"
)

// Config wires a Service to its collaborators. Only Resolver is required.
type Config struct {
	Resolver        *engine.RemoteTargetResolver
	Policy          *policy.Engine
	Store           stores.Store
	Telemetry       *telemetry.Telemetry
	Parallelism     int
	ContinueOnError bool
}

// Service turns definitions into dispatches. It evaluates policy, calls the
// resolver, records history and emits telemetry for every definition.
type Service struct {
	resolver        *engine.RemoteTargetResolver
	policy          *policy.Engine
	store           stores.Store
	tel             *telemetry.Telemetry
	logger          *telemetry.Logger
	parallelism     int
	continueOnError bool
}

// NewService creates a deploy service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	return &Service{
		resolver:        cfg.Resolver,
		policy:          cfg.Policy,
		store:           cfg.Store,
		tel:             tel,
		logger:          tel.Logger.NewComponentLogger("deploy"),
		parallelism:     parallelism,
		continueOnError: cfg.ContinueOnError,
	}, nil
}

// Resolver returns the resolver dispatches go through.
func (s *Service) Resolver() *engine.RemoteTargetResolver {
	return s.resolver
}

// Plan derives the invocation and policy decision for every definition
// without calling the channel.
func (s *Service) Plan(ctx context.Context, defs []config.Definition) (*Plan, error) {
	graph, err := BuildGraph(defs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Levels: graph.Levels(), DOT: graph.ToDOT()}
	for level, ids := range graph.Levels() {
		for _, id := range ids {
			def := graph.Definition(id)
			step := &Step{
				DefinitionID: id,
				Level:        level,
				Category:     def.Category,
				Entity:       def.Name,
				Verb:         def.Verb,
				DependsOn:    def.DependsOn,
			}
			if err := s.planStep(ctx, def, step); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				step.Err = err
				step.Error = err.Error()
			}
			plan.Steps = append(plan.Steps, step)
		}
	}

	s.logger.Zerolog().Debug().
		Int("steps", len(plan.Steps)).
		Int("levels", len(plan.Levels)).
		Int("blocked", len(plan.Blocked())).
		Msg("Plan computed")

	return plan, nil
}

func (s *Service) planStep(ctx context.Context, def *config.Definition, step *Step) error {
	verb, err := def.ParsedVerb()
	if err != nil {
		return err
	}
	entity, err := def.ToEntity()
	if err != nil {
		return err
	}

	inv, err := s.resolver.Prepare(ctx, verb, entity)
	if err != nil {
		return err
	}
	step.Invocation = &inv

	if s.policy == nil {
		return nil
	}
	input := policyInput(def, verb, entity, inv, true)
	decision, err := s.policy.Check(ctx, input)
	step.Decision = decision
	return err
}

// Apply dispatches defs level by level and records the run.
func (s *Service) Apply(ctx context.Context, defs []config.Definition, opts Options) (*Report, error) {
	graph, err := BuildGraph(defs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Status:    stores.RunStatusRunning,
		DryRun:    opts.DryRun,
		Levels:    graph.Levels(),
		StartedAt: time.Now(),
	}
	logger := s.logger.WithRunID(report.RunID)

	if s.store != nil {
		run := &stores.Run{
			ID:        report.RunID,
			Status:    stores.RunStatusRunning,
			Sources:   strings.Join(opts.Sources, ","),
			DryRun:    opts.DryRun,
			Total:     graph.Len(),
			StartedAt: report.StartedAt,
		}
		if err := s.store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}

	resolver := s.resolver
	var recorder *channel.Recorder
	if opts.DryRun {
		recorder = channel.NewRecorder()
		resolver = engine.NewResolver(s.resolver.Address(), recorder)
	}

	ctx, span := s.tel.Tracer.StartApplySpan(ctx, report.RunID, graph.Len())
	defer span.End()

	logger.Zerolog().Info().
		Int("definitions", graph.Len()).
		Int("levels", len(report.Levels)).
		Bool("dry_run", opts.DryRun).
		Msg("Apply started")
	s.publish(telemetry.Event{
		Type:    telemetry.EventTypeApplyStarted,
		RunID:   report.RunID,
		Message: fmt.Sprintf("Applying %d definitions", graph.Len()),
		Data:    map[string]interface{}{"dry_run": opts.DryRun, "levels": len(report.Levels)},
	})

	sched := &scheduler{
		service:         s,
		graph:           graph,
		resolver:        resolver,
		runID:           report.RunID,
		dryRun:          opts.DryRun,
		parallelism:     s.parallelism,
		continueOnError: s.continueOnError || opts.ContinueOnError,
		outcomes:        make(map[string]*Outcome, graph.Len()),
	}
	if opts.Parallelism > 0 {
		sched.parallelism = opts.Parallelism
	}
	report.Outcomes = sched.run(ctx)

	report.tally()
	report.CompletedAt = time.Now()
	switch {
	case ctx.Err() != nil:
		report.Status = stores.RunStatusCancelled
	case report.Failed > 0:
		report.Status = stores.RunStatusFailed
	default:
		report.Status = stores.RunStatusCompleted
	}
	if recorder != nil {
		report.Calls = recorder.Calls()
	}

	s.completeRun(ctx, report)

	runErr := report.Err()
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	s.tel.Metrics.RecordApplyCompleted(string(report.Status), report.CompletedAt.Sub(report.StartedAt))

	level := telemetry.EventLevelInfo
	if report.Status != stores.RunStatusCompleted {
		level = telemetry.EventLevelError
	}
	s.publish(telemetry.Event{
		Type:    telemetry.EventTypeApplyCompleted,
		RunID:   report.RunID,
		Level:   level,
		Message: fmt.Sprintf("Apply %s", report.Status),
		Data: map[string]interface{}{
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		},
	})

	logger.Zerolog().Info().
		Str("status", string(report.Status)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Apply completed")

	return report, nil
}

func (s *Service) completeRun(ctx context.Context, report *Report) {
	if s.store == nil {
		return
	}

	run := &stores.Run{
		ID:          report.RunID,
		Status:      report.Status,
		Total:       len(report.Outcomes),
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		Skipped:     report.Skipped,
		CompletedAt: &report.CompletedAt,
	}
	if err := report.Err(); err != nil {
		msg := err.Error()
		run.Error = &msg
	}

	// History is written even when the run was cancelled.
	if err := s.store.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.WithRunID(report.RunID).WithError(err).Warn("Failed to record run completion")
	}
}

// Dispatch applies a single definition outside of any run.
func (s *Service) Dispatch(ctx context.Context, def config.Definition, dryRun bool) (*Outcome, error) {
	resolver := s.resolver
	if dryRun {
		resolver = engine.NewResolver(s.resolver.Address(), channel.NewRecorder())
	}

	outcome := s.dispatch(ctx, resolver, nil, &def, dryRun)
	return outcome, outcome.Err
}

// Status queries whether the entity a definition describes exists.
func (s *Service) Status(ctx context.Context, def config.Definition) (*engine.Result, error) {
	entity, err := def.ToEntity()
	if err != nil {
		return nil, err
	}

	ctx, span := s.tel.Tracer.StartDispatchSpan(ctx, def.Category, entity.Name(), "status")
	defer span.End()

	result, err := s.resolver.Status(ctx, entity)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// dispatch runs one definition through build, policy, channel and history.
// The returned outcome carries the failure; dispatch itself never fails.
func (s *Service) dispatch(ctx context.Context, resolver *engine.RemoteTargetResolver, runID *string, def *config.Definition, dryRun bool) *Outcome {
	outcome := &Outcome{
		DispatchID:   uuid.New().String(),
		DefinitionID: def.ID,
		Category:     def.Category,
		Entity:       def.Name,
		Verb:         def.Verb,
		StartedAt:    time.Now(),
	}
	logger := s.logger.WithDispatchID(outcome.DispatchID).WithEntity(def.Category, def.Name)

	ctx, span := s.tel.Tracer.StartDispatchSpan(ctx, def.Category, def.Name, def.Verb)
	span.SetAttributes(attribute.String("iamdeploy.definition", def.ID))
	defer span.End()

	finish := func(status stores.DispatchStatus, err error) *Outcome {
		outcome.fail(status, err)
		if err != nil {
			telemetry.RecordError(span, err)
			var engErr *engine.EngineError
			if errors.As(err, &engErr) {
				s.tel.Metrics.RecordError(string(engErr.Class), engErr.Code)
			}
		} else {
			telemetry.RecordSuccess(span)
		}
		s.record(ctx, runID, outcome, dryRun)
		s.publishOutcome(runID, outcome)
		return outcome
	}

	verb, err := def.ParsedVerb()
	if err != nil {
		s.tel.Metrics.RecordSkipped(def.Category, def.Verb, string(stores.DispatchFailed))
		return finish(stores.DispatchFailed, err)
	}

	entity, err := def.ToEntity()
	if err != nil {
		s.tel.Metrics.RecordSkipped(def.Category, string(verb), string(stores.DispatchFailed))
		return finish(stores.DispatchFailed, err)
	}
	outcome.Entity = entity.Name()

	inv, err := resolver.Prepare(ctx, verb, entity)
	if err != nil {
		if engine.CodeOf(err) == engine.ErrCodeTargetAddressMalformed {
			s.tel.Metrics.RecordResolution("failed")
		}
		s.tel.Metrics.RecordSkipped(def.Category, string(verb), string(stores.DispatchFailed))
		return finish(stores.DispatchFailed, err)
	}
	outcome.Invocation = &inv

	if s.policy != nil {
		decision, err := s.policy.Check(ctx, policyInput(def, verb, entity, inv, dryRun))
		outcome.Decision = decision
		if err != nil {
			if engine.CodeOf(err) == engine.ErrCodePolicyDenied {
				for _, v := range decision.Violations {
					s.tel.Metrics.RecordPolicyDenial(v.Policy)
				}
				s.tel.Metrics.RecordSkipped(def.Category, string(verb), string(stores.DispatchDenied))
				logger.Zerolog().Warn().Strs("reasons", decision.Reasons()).Msg("Dispatch denied by policy")
				return finish(stores.DispatchDenied, err)
			}
			s.tel.Metrics.RecordSkipped(def.Category, string(verb), string(stores.DispatchFailed))
			return finish(stores.DispatchFailed, err)
		}
		if !decision.Allowed {
			logger.Zerolog().Warn().Strs("reasons", decision.Reasons()).Msg("Policy violations ignored in advisory mode")
		}
		for _, w := range decision.Warnings {
			logger.Zerolog().Warn().Str("policy", w.Policy).Msg(w.Message)
		}
	}

	s.tel.Metrics.DispatchStarted()
	timer := telemetry.NewTimer()
	result, err := resolver.Dispatch(ctx, verb, entity)
	if err != nil {
		s.tel.Metrics.RecordDispatch(def.Category, string(verb), string(stores.DispatchFailed), timer.Duration())
		logger.Zerolog().Error().Err(err).Str("operation", inv.Operation).Msg("Dispatch failed")
		return finish(stores.DispatchFailed, err)
	}
	s.tel.Metrics.RecordDispatch(def.Category, string(verb), string(stores.DispatchSucceeded), timer.Duration())

	outcome.Value = result.Value
	logger.Zerolog().Info().
		Str("operation", inv.Operation).
		Int("parameters", inv.Parameters.Len()).
		Dur("duration", timer.Duration()).
		Msg("Dispatch succeeded")

	return finish(stores.DispatchSucceeded, nil)
}

// skip records a definition that was never attempted.
func (s *Service) skip(ctx context.Context, runID *string, def *config.Definition, reason string, dryRun bool) *Outcome {
	outcome := &Outcome{
		DispatchID:   uuid.New().String(),
		DefinitionID: def.ID,
		Category:     def.Category,
		Entity:       def.Name,
		Verb:         def.Verb,
		StartedAt:    time.Now(),
	}
	outcome.fail(stores.DispatchSkipped, errors.New(reason))

	s.tel.Metrics.RecordSkipped(def.Category, def.Verb, string(stores.DispatchSkipped))
	s.record(ctx, runID, outcome, dryRun)
	s.publishOutcome(runID, outcome)
	return outcome
}

func (s *Service) record(ctx context.Context, runID *string, outcome *Outcome, dryRun bool) {
	if s.store == nil {
		return
	}

	rec := &stores.DispatchRecord{
		ID:           outcome.DispatchID,
		RunID:        runID,
		DefinitionID: outcome.DefinitionID,
		Category:     outcome.Category,
		Entity:       outcome.Entity,
		Verb:         outcome.Verb,
		Status:       outcome.Status,
		ErrorCode:    engine.CodeOf(outcome.Err),
		DryRun:       dryRun,
		StartedAt:    outcome.StartedAt,
		CompletedAt:  outcome.CompletedAt,
	}
	if inv := outcome.Invocation; inv != nil {
		rec.Operation = inv.Operation
		rec.Target = inv.Address
		rec.Signature = inv.Parameters.Signature
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		rec.Error = &msg
	}
	if outcome.Value != nil {
		if data, err := json.Marshal(outcome.Value); err == nil {
			value := string(data)
			rec.Result = &value
		}
	}

	if err := s.store.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.WithDispatchID(rec.ID).WithError(err).Warn("Failed to record dispatch")
	}
}

func (s *Service) publishOutcome(runID *string, outcome *Outcome) {
	event := telemetry.Event{
		Category: outcome.Category,
		Entity:   outcome.Entity,
		Data: map[string]interface{}{
			"dispatch_id":   outcome.DispatchID,
			"definition_id": outcome.DefinitionID,
			"verb":          outcome.Verb,
		},
	}
	if runID != nil {
		event.RunID = *runID
	}

	switch outcome.Status {
	case stores.DispatchSucceeded:
		event.Type = telemetry.EventTypeDispatchCompleted
		event.Message = fmt.Sprintf("%s %s %s", outcome.Verb, outcome.Category, outcome.Entity)
	case stores.DispatchDenied:
		event.Type = telemetry.EventTypePolicyDenied
		event.Level = telemetry.EventLevelWarning
		event.Message = outcome.Error
	case stores.DispatchSkipped:
		event.Type = telemetry.EventTypeDispatchSkipped
		event.Level = telemetry.EventLevelWarning
		event.Message = outcome.Error
	default:
		event.Type = telemetry.EventTypeDispatchFailed
		event.Level = telemetry.EventLevelError
		event.Message = outcome.Error
		event.Data["code"] = engine.CodeOf(outcome.Err)
	}

	s.publish(event)
}

func (s *Service) publish(event telemetry.Event) {
	if err := s.tel.Events.Publish(event); err != nil {
		s.logger.WithError(err).Debug("Event not published")
	}
}

func policyInput(def *config.Definition, verb engine.Verb, entity *engine.ConfigurationEntity, inv engine.Invocation, dryRun bool) *policy.Input {
	input := policy.NewInput(def.ID, def.Labels, verb, entity)
	input.Operation = inv.Operation
	input.Target = inv.Address
	input.DryRun = dryRun
	return input
}
