// Command agentrtd loads an agent-folder tree, starts the worker pool and
// the capability servers, and either drives one agent through a single
// autonomous job (agent_name + prompt given on the command line) or serves
// the process-global admin HTTP surface indefinitely.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ivanpostolski/one-prompt-agents/internal/agent"
	"github.com/ivanpostolski/one-prompt-agents/internal/config"
	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/runner"
	"github.com/ivanpostolski/one-prompt-agents/internal/schema"
	"github.com/ivanpostolski/one-prompt-agents/internal/scheduler"
	"github.com/ivanpostolski/one-prompt-agents/internal/strategy"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
	"goa.design/clue/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		logToFile = flag.Bool("log", false, "redirect logs to a file")
		verbose   = flag.Bool("v", false, "enable verbose output (sets logging level to debug)")
		provider  = flag.String("provider", "", "model provider backing every agent's runner: stub, anthropic, or openai (overrides runtime.yaml)")
	)
	flag.BoolVar(verbose, "verbose", false, "enable verbose output (sets logging level to debug)")
	flag.Parse()
	agentName := flag.Arg(0)
	prompt := flag.Arg(1)

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *verbose {
		ctx = log.Context(ctx, log.WithDebug())
	}
	if *logToFile {
		f, err := os.OpenFile("agentrtd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentrtd: open log file: %v\n", err)
			return 2
		}
		defer f.Close()
		// clue writes to os.Stdout by default; redirecting the process-wide
		// handle is the simplest way to send logs to a file without a second
		// logging backend.
		os.Stdout = f
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	log.Print(ctx, log.KV{K: "msg", V: "starting agent runtime"})

	configs, err := config.Discover("agents_config")
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "discover agent configs"})
		return 2
	}
	order, err := config.TopoSort(configs)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "topologically order agent configs"})
		return 2
	}

	runtimeCfg, err := config.LoadRuntime("runtime.yaml")
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "load runtime settings"})
		return 2
	}

	externalSpecs, err := config.LoadExternalServers("mcp_servers.yaml")
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "load external capability servers"})
		return 2
	}
	external := make(map[string]agent.ToolHandle, len(externalSpecs))
	for _, spec := range externalSpecs {
		external[spec.Name] = agent.ExternalServer{Name: spec.Name, URL: spec.URL}
	}

	jobs := jobstore.NewSystem()
	schemas := schema.NewRegistry()
	strategies := strategy.NewRegistry(map[string]strategy.Factory{
		strategy.DefaultName: strategy.NewContinueLastUnchecked(jobs.Store, logger),
		"plan_watcher":       strategy.NewPlanWatcher(jobs.Store, logger),
	}, logger)

	ports := agent.NewPortAllocator(8001)
	modelProvider := runtimeCfg.ModelProvider
	if *provider != "" {
		modelProvider = *provider
	}
	sharedRunner, err := newSharedRunner(modelProvider, runtimeCfg.MaxTokens)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "select model provider"})
		return 2
	}
	log.Print(ctx, log.KV{K: "msg", V: "model provider selected"}, log.KV{K: "provider", V: modelProvider})
	newRunner := func(string) runner.AgentRunner { return sharedRunner }

	agents, err := agent.Load(configs, order, external, jobs, schemas, newRunner, ports, logger)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "load agents"})
		return 2
	}
	defer func() {
		for name, a := range agents {
			if err := a.Cleanup(context.Background()); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "cleanup agent"}, log.KV{K: "agent", V: name})
			}
		}
	}()

	sched := scheduler.New(jobs, agents, strategies, schemas, logger, tracer, scheduler.WithNumWorkers(runtimeCfg.NumWorkers))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sched.Start(runCtx)

	admin := agent.NewAdmin(jobs.Store, agents)
	mainMCPPort := runtimeCfg.MainMCPPort
	if v := os.Getenv("MAIN_MCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			mainMCPPort = p
		}
	}
	if err := admin.Serve(fmt.Sprintf("127.0.0.1:%d", mainMCPPort)); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "start admin capability server"})
		return 2
	}
	defer admin.Stop(context.Background())

	if agentName != "" && prompt != "" {
		target, ok := agents[agentName]
		if !ok {
			log.Error(ctx, fmt.Errorf("unknown agent %q", agentName), log.KV{K: "msg", V: "run agent"})
			return 1
		}
		id := jobs.Submit(agentName, prompt, target.DefaultStrategy, nil)
		log.Print(ctx, log.KV{K: "msg", V: "submitted job"}, log.KV{K: "job_id", V: id})
		jobs.Queue.Join()
		job, _ := jobs.Store.Get(id)
		log.Print(ctx, log.KV{K: "msg", V: "job finished"}, log.KV{K: "job_id", V: id}, log.KV{K: "status", V: string(job.Status)})
		return 0
	}

	httpServer := newAdminHTTP(jobs, agents, runtimeCfg.AdminHTTPAddr)
	errc := make(chan error, 1)
	go func() { errc <- httpServer.ListenAndServe() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, err, log.KV{K: "msg", V: "http server exited"})
			return 1
		}
	case sig := <-sigc:
		log.Print(ctx, log.KV{K: "msg", V: "received signal, shutting down"}, log.KV{K: "signal", V: sig.String()})
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return 0
}

// newSharedRunner builds the single AgentRunner instance shared by every
// loaded agent: per-agent instructions, model, and tools all travel through
// runner.Input on each call, so one real provider client suffices for the
// whole process. "anthropic" reads ANTHROPIC_API_KEY and "openai" reads
// OPENAI_API_KEY; either one is an error if the matching key is unset.
// Anything else (including the empty string) falls back to the in-memory
// Stub, which is the correct choice for a checkout with no provider keys.
func newSharedRunner(provider string, maxTokens int) (runner.AgentRunner, error) {
	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("agentrtd: -provider=anthropic requires ANTHROPIC_API_KEY")
		}
		return runner.NewAnthropicRunner(apiKey, int64(maxTokens)), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("agentrtd: -provider=openai requires OPENAI_API_KEY")
		}
		return runner.NewOpenAIRunner(apiKey, maxTokens), nil
	case "", "stub":
		return &runner.Stub{}, nil
	default:
		return nil, fmt.Errorf("agentrtd: unknown model provider %q (want stub, anthropic, or openai)", provider)
	}
}

// newAdminHTTP builds the minimal FastAPI-shaped surface from the original
// implementation: a health route and a fire-and-forget per-agent run route.
func newAdminHTTP(jobs *jobstore.System, agents map[string]*agent.Agent, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":"Server is running"}`)
	})
	mux.HandleFunc("POST /{agent_name}/run", func(w http.ResponseWriter, r *http.Request) {
		agentName := r.PathValue("agent_name")
		target, ok := agents[agentName]
		if !ok {
			w.WriteHeader(422)
			fmt.Fprintf(w, `{"detail":"Unknown agent %s"}`, agentName)
			return
		}
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := jobs.Submit(agentName, body.Prompt, target.DefaultStrategy, nil)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"started","agent":%q,"job_id":%q}`, agentName, id)
	})
	return &http.Server{Addr: addr, Handler: mux}
}
