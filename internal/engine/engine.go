package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgirard/keepsake/internal/config"
	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

// Engine wires the pipeline together: the durable queue and its handlers,
// the frequency gate, the decay engine, and the two extraction phases.
// Construct one per process and pass it explicitly; there is no singleton.
type Engine struct {
	DB    *store.DB
	LLM   llm.Client
	Gate  *FrequencyGate
	Decay *DecayEngine
	Queue *Processor

	scanner *Scanner
	updater *Updater
	log     *zap.Logger

	// ownerMu serializes every owner load-modify-save. Queue tasks are
	// already single-flight; this extends the same exclusion to the decay
	// sweep and validation resolution, which run outside the queue.
	ownerMu chMutex
}

// chMutex is a channel-based mutex so lock acquisition can respect context
// cancellation at task checkpoints.
type chMutex chan struct{}

func newChMutex() chMutex {
	m := make(chMutex, 1)
	return m
}

func (m chMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chMutex) unlock() { <-m }

// New creates an engine over the store and a retry-wrapped LLM client.
func New(db *store.DB, client llm.Client, log *zap.Logger, cfg config.PipelineConfig) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		DB:      db,
		LLM:     client,
		Gate:    NewFrequencyGate(db),
		Decay:   NewDecayEngine(db, log.Named("decay"), cfg.DecayRate, time.Duration(cfg.DecayDeadZoneMin)*time.Minute),
		Queue:   NewProcessor(db, log.Named("queue"), time.Duration(cfg.PollIntervalMS)*time.Millisecond),
		scanner: NewScanner(client, log.Named("scan"), cfg.WindowTokens, 0, cfg.ValidationCap),
		updater: NewUpdater(client, log.Named("detail"), 0),
		log:     log,
		ownerMu: newChMutex(),
	}

	e.Queue.Register(KindFastScan, e.HandleFastScan)
	e.Queue.Register(KindDetailUpdate, e.HandleDetailUpdate)
	e.Queue.Register(KindDescriptionRegen, e.HandleDescriptionRegen)
	return e
}

// Run drives the queue poll loop until ctx is cancelled, sweeping decay once
// at startup. Blocks; intended for an errgroup.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.sweepDecay(ctx); err != nil {
		e.log.Error("startup decay sweep failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Queue.Run(ctx)
	})
	return g.Wait()
}

// Execute dispatches one task to its handler. This is the runner for the
// ad hoc in-memory queue flavor; the durable processor uses the same
// handlers via its registry. The match is exhaustive: an unknown variant is
// an invariant violation, never a silent drop.
func (e *Engine) Execute(ctx context.Context, task Task) error {
	switch task.Kind {
	case KindFastScan:
		return e.HandleFastScan(ctx, task)
	case KindDetailUpdate:
		return e.HandleDetailUpdate(ctx, task)
	case KindDescriptionRegen:
		return e.HandleDescriptionRegen(ctx, task)
	case KindValidationRequest:
		// Validation requests wait for explicit resolution; executing one is
		// a scheduling bug.
		return fmt.Errorf("task %s: validation requests are not executable", task.ID)
	default:
		return fmt.Errorf("task %s: no handler for kind %q", task.ID, task.Kind)
	}
}

// OnExchange is the chat pipeline's trigger: records one human/persona
// exchange, updates gate counters, runs a lazy decay sweep, and enqueues a
// batched fast scan per owner whose types are due. It never blocks on model
// calls; those happen later, on the queue.
func (e *Engine) OnExchange(ctx context.Context, persona, humanName, humanText, personaText string) error {
	personaOwner, err := e.ensureOwner(memory.KindPersona, persona, humanName)
	if err != nil {
		return err
	}
	humanOwner, err := e.ensureOwner(memory.KindHuman, humanName, persona)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, msg := range []exchange.Message{
		{Persona: persona, SpeakerKind: memory.KindHuman, SpeakerName: humanOwner.Name, Content: humanText, CreatedAt: now},
		{Persona: persona, SpeakerKind: memory.KindPersona, SpeakerName: personaOwner.Name, Content: personaText, CreatedAt: now},
	} {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		m := msg
		if err := e.DB.AppendExchange(&m); err != nil {
			return err
		}
	}

	// Decay rides the read path, not a timer: elapsed time does the math and
	// the dead-zone keeps this cheap.
	if _, err := e.sweepDecay(ctx); err != nil {
		e.log.Error("decay sweep failed", zap.Error(err))
	}

	for _, owner := range []*memory.Owner{humanOwner, personaOwner} {
		ref := owner.Ref()
		if err := e.Gate.RecordExchange(ref); err != nil {
			return err
		}
		due, err := e.Gate.DueTypes(ref)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			continue
		}
		task := NewTask(PriorityNormal, FastScanPayload{
			Owner:   ref,
			Persona: persona,
			Types:   due,
		})
		if _, err := e.Queue.Enqueue(task); err != nil {
			return err
		}
		e.log.Debug("fast scan queued",
			zap.String("owner", ref.String()),
			zap.String("task", task.ID),
			zap.Int("types", len(due)))
	}
	return nil
}

// HandleFastScan runs phase 1 for one owner. Gather: one batched model call.
// Apply: route follow-up tasks and record extraction completion, reached
// only when the task was not aborted. An aborted scan consumes nothing.
func (e *Engine) HandleFastScan(ctx context.Context, task Task) error {
	p := task.FastScan

	owner, err := e.loadOwner(p.Owner)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("fast scan: unknown owner %s", p.Owner)
	}
	personas, err := e.DB.ListPersonas()
	if err != nil {
		return err
	}
	messages, err := e.DB.RecentExchanges(p.Persona, 50)
	if err != nil {
		return err
	}

	results, ok, err := e.scanner.Scan(ctx, owner, p.Types, messages, personas)
	if err != nil {
		return err // cancellation; inputs stay unconsumed
	}
	if !ok {
		// No result. The gate stays untouched so the next triggering
		// exchange retries with the same accumulated messages.
		return nil
	}

	// Commit point: after this check there are no more suspension points.
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, t := range routeResults(results, p.Owner, p.Persona, messages, e.scanner.validationCap) {
		if _, err := e.Queue.Enqueue(t); err != nil {
			return err
		}
	}
	if err := e.Gate.RecordExtraction(p.Owner, p.Types, time.Now().UTC()); err != nil {
		return err
	}

	e.log.Info("fast scan complete",
		zap.String("owner", p.Owner.String()),
		zap.Int("hits", len(results)))
	return nil
}

// HandleDetailUpdate runs phase 2 for one candidate item.
func (e *Engine) HandleDetailUpdate(ctx context.Context, task Task) error {
	p := task.Detail

	if err := e.ownerMu.lock(ctx); err != nil {
		return err
	}
	defer e.ownerMu.unlock()

	owner, err := e.loadOwner(p.Owner)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("detail update: unknown owner %s", p.Owner)
	}
	var acting *memory.Owner
	if p.ActingPersona != "" {
		acting, err = e.DB.LoadOwner(memory.KindPersona, p.ActingPersona)
		if err != nil {
			return err
		}
	}

	// Gather phase: the model call plus all gating, no side effects.
	item, err := e.updater.Evaluate(ctx, owner, *p)
	if err != nil {
		return err
	}
	if item == nil {
		return nil // skipped: a terminal outcome, not a failure
	}

	// Commit point.
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	res := e.updater.Apply(owner, acting, *p, item, now)
	for _, issue := range res.ReconcileIssues {
		e.log.Warn("static trait reconciled", zap.String("issue", issue.String()))
	}

	if err := e.DB.SaveOwner(owner); err != nil {
		return fmt.Errorf("persist owner: %w", err)
	}
	if err := e.Gate.RecordExtraction(p.Owner, []memory.DataType{p.Type}, now); err != nil {
		return err
	}

	if res.NeedsArbitration && owner.PrimaryPersona != "" {
		// Optimistic merge, async verify: the write stands, the primary
		// persona is asked to confirm it.
		_, err := e.Queue.Enqueue(NewTask(PriorityNormal, ValidationPayload{
			Owner:         p.Owner,
			Type:          p.Type,
			Name:          item.Name,
			Origin:        OriginCrossOwner,
			Rationale:     fmt.Sprintf("%s updated the shared item %q", p.ActingPersona, item.Name),
			ActingPersona: p.ActingPersona,
			RequestedOf:   owner.PrimaryPersona,
		}))
		if err != nil {
			return err
		}
	}

	if res.TouchedOwnTraits {
		_, err := e.Queue.Enqueue(NewTask(PriorityLow, DescriptionRegenPayload{Persona: owner.Name}))
		if err != nil {
			return err
		}
	}

	e.log.Info("detail update applied",
		zap.String("owner", p.Owner.String()),
		zap.String("type", string(p.Type)),
		zap.String("name", item.Name),
		zap.Bool("created", res.Created))
	return nil
}

// HandleDescriptionRegen rebuilds a persona's self-description from its
// traits.
func (e *Engine) HandleDescriptionRegen(ctx context.Context, task Task) error {
	p := task.Regen

	if err := e.ownerMu.lock(ctx); err != nil {
		return err
	}
	defer e.ownerMu.unlock()

	persona, err := e.DB.LoadOwner(memory.KindPersona, p.Persona)
	if err != nil {
		return err
	}
	if persona == nil {
		return fmt.Errorf("description regen: unknown persona %q", p.Persona)
	}
	if len(persona.Traits) == 0 {
		return nil
	}

	var traits strings.Builder
	for i := range persona.Traits {
		fmt.Fprintf(&traits, "- %s: %s\n", persona.Traits[i].Name, persona.Traits[i].Description)
	}

	system, user := llm.DescriptionPrompt(persona.Name, traits.String())
	resp, err := e.LLM.Complete(ctx, system, user, llm.Options{MaxTokens: 512, Temperature: 0.5})
	if err != nil {
		return err
	}
	desc := strings.TrimSpace(resp.Content)
	if desc == "" {
		return nil
	}

	// Commit point.
	if err := ctx.Err(); err != nil {
		return err
	}

	persona.Description = desc
	if err := e.DB.SaveOwner(persona); err != nil {
		return fmt.Errorf("persist persona: %w", err)
	}
	e.log.Info("persona description regenerated", zap.String("persona", persona.Name))
	return nil
}

// ResolveValidation settles a pending validation request. accept on a
// low-confidence suggestion promotes it to a detail-update task; reject
// drops it. accept on a cross-owner write confirms the item (stamping
// last_confirmed on facts); reject rolls the item back to its previous
// snapshot, or removes it when the write created it.
func (e *Engine) ResolveValidation(ctx context.Context, id string, accept bool) error {
	item, err := e.DB.GetQueueItem(id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("validation %q not found", id)
	}
	task, err := decodeTask(item)
	if err != nil {
		return err
	}
	if task.Kind != KindValidationRequest {
		return fmt.Errorf("task %s is %s, not a validation request", id, task.Kind)
	}
	p := task.Validation

	switch p.Origin {
	case OriginLowConfidence:
		if accept {
			_, err := e.Queue.Enqueue(NewTask(PriorityNormal, DetailUpdatePayload{
				Owner:         p.Owner,
				Type:          p.Type,
				Name:          p.Name,
				IsNew:         p.IsNew,
				ActingPersona: p.ActingPersona,
				Messages:      p.Messages,
			}))
			if err != nil {
				return err
			}
		}
	case OriginCrossOwner:
		if err := e.settleCrossOwner(ctx, p, accept); err != nil {
			return err
		}
	default:
		return fmt.Errorf("validation %s: unknown origin %q", id, p.Origin)
	}

	return e.DB.DeleteQueueItem(id)
}

func (e *Engine) settleCrossOwner(ctx context.Context, p *ValidationPayload, accept bool) error {
	if err := e.ownerMu.lock(ctx); err != nil {
		return err
	}
	defer e.ownerMu.unlock()

	owner, err := e.loadOwner(p.Owner)
	if err != nil {
		return err
	}
	if owner == nil {
		return nil // owner gone; nothing to settle
	}

	if accept {
		if f := owner.FindFact(p.Name); f != nil && p.Type == memory.TypeFact {
			now := time.Now().UTC()
			f.LastConfirmed = &now
		}
		return e.DB.SaveOwner(owner)
	}

	if !rollBackItem(owner, p.Type, p.Name) {
		e.log.Warn("rejected write had nothing to roll back",
			zap.String("owner", p.Owner.String()), zap.String("name", p.Name))
		return nil
	}
	return e.DB.SaveOwner(owner)
}

// ensureOwner loads an owner, creating a minimal record on first contact.
// Names are all that is needed to start accruing memory.
func (e *Engine) ensureOwner(kind memory.OwnerKind, name, counterpart string) (*memory.Owner, error) {
	owner, err := e.DB.LoadOwner(kind, name)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return owner, nil
	}
	owner = &memory.Owner{Kind: kind, Name: name}
	if kind == memory.KindHuman {
		owner.PrimaryPersona = counterpart
	}
	if err := e.DB.SaveOwner(owner); err != nil {
		return nil, err
	}
	e.log.Info("owner created", zap.String("owner", owner.Ref().String()))
	return owner, nil
}

func (e *Engine) loadOwner(ref memory.OwnerRef) (*memory.Owner, error) {
	return e.DB.LoadOwner(ref.Kind, ref.Name)
}

func (e *Engine) sweepDecay(ctx context.Context) (int, error) {
	if err := e.ownerMu.lock(ctx); err != nil {
		return 0, err
	}
	defer e.ownerMu.unlock()
	return e.Decay.Sweep(time.Now().UTC())
}
