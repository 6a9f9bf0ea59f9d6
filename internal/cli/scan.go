package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/engine"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

var (
	scanPersona string
	scanHuman   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one extraction pass without the daemon",
	Long: "Scans the recent conversation for both owners immediately, skipping\n" +
		"the frequency gate, then drains any follow-up work. Low-confidence\n" +
		"suggestions are parked for `keepsake validations`.",
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("configure llm: %w", err)
	}
	eng := engine.New(db, llm.NewRetrying(client, log.Named("llm")), log, cfg.Pipeline)

	ctx := cmd.Context()

	// The scans themselves run on an ad hoc in-memory queue so this command
	// needs no daemon and leaves nothing behind on failure.
	var wg sync.WaitGroup
	drain := time.Duration(cfg.Pipeline.DrainTimeoutS) * time.Second
	queue := engine.NewTaskQueue(eng.Execute, log.Named("scan"), drain)
	queue.SetCompletionCallback(func(task engine.Task, err error) {
		if err != nil {
			log.Error("scan task failed", zap.String("id", task.ID), zap.Error(err))
		}
		wg.Done()
	})

	for _, ref := range []memory.OwnerRef{
		{Kind: memory.KindHuman, Name: scanHuman},
		{Kind: memory.KindPersona, Name: scanPersona},
	} {
		owner, err := db.LoadOwner(ref.Kind, ref.Name)
		if err != nil {
			return err
		}
		if owner == nil {
			return fmt.Errorf("unknown %s %q", ref.Kind, ref.Name)
		}
		wg.Add(1)
		queue.Enqueue(engine.NewTask(engine.PriorityNormal, engine.FastScanPayload{
			Owner:   ref,
			Persona: scanPersona,
			Types:   memory.TypesFor(ref.Kind),
		}))
	}
	wg.Wait()
	queue.Shutdown()

	// Follow-up detail updates landed on the durable queue; pump it dry.
	// Parked validation requests are skipped and survive for later review.
	for {
		next, err := db.NextQueueItem(string(engine.KindValidationRequest))
		if err != nil {
			return err
		}
		if next == nil {
			break
		}
		eng.Queue.ProcessOnce(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	pending, err := eng.Queue.PendingValidations()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Printf("scan complete, %d validation(s) pending\n", len(pending))
	} else {
		fmt.Println("scan complete")
	}
	return nil
}

func init() {
	scanCmd.Flags().StringVar(&scanPersona, "persona", "", "persona in the conversation (required)")
	scanCmd.Flags().StringVar(&scanHuman, "human", "", "human in the conversation (required)")
	scanCmd.MarkFlagRequired("persona")
	scanCmd.MarkFlagRequired("human")
}
