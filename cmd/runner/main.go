// The runner executes queued workflow runs and hosts the trigger
// supervisors. It shares the API service's stores but serves no public
// endpoints beyond health and metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veilflow/veilflow/common/bootstrap"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/engine"
	"github.com/veilflow/veilflow/common/repository"
	"github.com/veilflow/veilflow/common/service"
	"github.com/veilflow/veilflow/common/triggers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	cfg := components.Config
	log := components.Logger

	// Repositories
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB)
	triggerRepo := repository.NewTriggerRepository(components.DB)
	connectorRepo := repository.NewConnectorRepository(components.DB, components.Secrets)
	ledgerRepo := repository.NewLedgerRepository(components.DB)

	// External clients
	chainClient := clients.NewZcashClient(cfg.Chain, log)
	vaultClient := clients.NewVaultClient(cfg.Vault, log)
	computeClient := clients.NewComputeClient(cfg.Compute, log)
	llmClient := clients.NewLLMClient(cfg.LLM, log)
	socialClient := clients.NewSocialClient(log)
	actionClient := clients.NewActionClient(log)

	// Block handler registry
	evaluator := engine.NewConditionEvaluator()
	registry := engine.NewRegistry()
	registry.Register(&engine.PayloadInputHandler{})
	registry.Register(&engine.JSONExtractHandler{})
	registry.Register(&engine.MemoParserHandler{})
	registry.Register(engine.NewIfElseHandler(evaluator))
	registry.Register(engine.NewStateStoreHandler(vaultClient))
	registry.Register(engine.NewStateReadHandler(vaultClient))
	registry.Register(engine.NewComputeHandler(computeClient))
	registry.Register(engine.NewBlockGraphHandler(computeClient))
	registry.Register(engine.NewLLMHandler(llmClient))
	registry.Register(engine.NewChainSendHandler(chainClient))
	registry.Register(engine.NewConnectorRequestHandler(actionClient))
	registry.Register(engine.NewCustomHTTPHandler(actionClient))

	runEngine := engine.New(runRepo, workflowRepo, connectorRepo, ledgerRepo, registry, log)
	runService := service.NewRunService(runRepo, components.Queue, log)

	// Trigger supervisors
	schedule := triggers.NewScheduleRunner(workflowRepo, triggerRepo, runService, log)
	chainWatch := triggers.NewChainWatcher(triggerRepo, workflowRepo, runService, chainClient, log)
	httpPoll := triggers.NewHTTPPoller(triggerRepo, workflowRepo, connectorRepo, runService, actionClient, log)
	socialPoll := triggers.NewSocialPoller(triggerRepo, workflowRepo, connectorRepo, runService, socialClient, log)

	var wg sync.WaitGroup
	supervisors := []func(context.Context){
		schedule.Start,
		chainWatch.Start,
		httpPoll.Start,
		socialPoll.Start,
	}
	for _, start := range supervisors {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	startObservability(ctx, components)

	log.Info("runner started",
		"concurrency", cfg.Queue.Concurrency,
		"blocks", registry.BlockIDs())

	// Blocks until the context is cancelled
	components.Queue.StartWorkers(ctx, cfg.Queue.Concurrency, runEngine)

	wg.Wait()
	log.Info("runner stopped")
}

// startObservability serves health and metrics on the configured port
func startObservability(ctx context.Context, components *bootstrap.Components) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := components.DB.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", components.Config.Service.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			components.Logger.Error("observability server error", "error", err)
		}
	}()
}
