package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccengram/ccengram/internal/config"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/extract"
	"github.com/ccengram/ccengram/internal/registry"
	"github.com/ccengram/ccengram/internal/retrieval"
	"github.com/ccengram/ccengram/internal/scheduler"
	"github.com/ccengram/ccengram/internal/store"
)

// handler is one method implementation. Params arrive validated through
// the helpers; the return value becomes the result member.
type handler func(ctx context.Context, p params) (any, error)

// Router dispatches JSON-RPC requests to handlers. It never panics; every
// failure becomes an error response.
type Router struct {
	cfg      *config.Config
	registry *registry.Registry
	llm      extract.LlmProvider
	logger   *slog.Logger

	handlers map[string]handler
	started  time.Time
	shutdown func()

	promReg  *prometheus.Registry
	requests *prometheus.CounterVec

	mu            sync.Mutex
	accumulators  map[string]*extract.Accumulator // keyed by project id + session id
	orchestrators map[string]*extract.Orchestrator
}

// NewRouter creates the router and registers every method.
func NewRouter(cfg *config.Config, reg *registry.Registry, llm extract.LlmProvider, logger *slog.Logger, shutdown func()) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	promReg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ccengram_requests_total",
		Help: "JSON-RPC requests by method and outcome.",
	}, []string{"method", "outcome"})
	promReg.MustRegister(requests)

	r := &Router{
		cfg:           cfg,
		registry:      reg,
		llm:           llm,
		logger:        logger,
		started:       time.Now(),
		shutdown:      shutdown,
		promReg:       promReg,
		requests:      requests,
		accumulators:  make(map[string]*extract.Accumulator),
		orchestrators: make(map[string]*extract.Orchestrator),
	}
	r.handlers = map[string]handler{
		MethodPing:        r.handlePing,
		MethodStatus:      r.handleStatus,
		MethodHealthCheck: r.handleHealthCheck,
		MethodMetrics:     r.handleMetrics,
		MethodShutdown:    r.handleShutdown,

		MethodMemorySearch:      r.handleMemorySearch,
		MethodMemoryAdd:         r.handleMemoryAdd,
		MethodMemoryGet:         r.handleMemoryGet,
		MethodMemoryList:        r.handleMemoryList,
		MethodMemoryReinforce:   r.handleMemoryReinforce,
		MethodMemoryDeemphasize: r.handleMemoryDeemphasize,
		MethodMemoryDelete:      r.handleMemoryDelete,
		MethodMemoryRestore:     r.handleMemoryRestore,
		MethodMemoryListDeleted: r.handleMemoryListDeleted,
		MethodMemorySupersede:   r.handleMemorySupersede,
		MethodMemoryTimeline:    r.handleMemoryTimeline,
		MethodMemoryRelated:     r.handleMemoryRelated,

		MethodCodeSearch:      r.handleCodeSearch,
		MethodCodeContext:     r.handleCodeContext,
		MethodCodeIndex:       r.handleCodeIndex,
		MethodCodeList:        r.handleCodeList,
		MethodCodeStats:       r.handleCodeStats,
		MethodCodeCallers:     r.handleCodeCallers,
		MethodCodeCallees:     r.handleCodeCallees,
		MethodCodeImportChunk: r.handleCodeImportChunk,
		MethodCodeMemories:    r.handleCodeMemories,
		MethodCodeRelated:     r.handleCodeRelated,
		MethodCodeContextFull: r.handleCodeContextFull,

		MethodDocsSearch: r.handleDocsSearch,
		MethodDocContext: r.handleDocContext,
		MethodDocsIngest: r.handleDocsIngest,

		MethodEntityList: r.handleEntityList,
		MethodEntityGet:  r.handleEntityGet,
		MethodEntityTop:  r.handleEntityTop,

		MethodRelationshipAdd:     r.handleRelationshipAdd,
		MethodRelationshipList:    r.handleRelationshipList,
		MethodRelationshipDelete:  r.handleRelationshipDelete,
		MethodRelationshipRelated: r.handleRelationshipRelated,

		MethodWatchStart:  r.handleWatchStart,
		MethodWatchStop:   r.handleWatchStop,
		MethodWatchStatus: r.handleWatchStatus,

		MethodProjectStats:     r.handleProjectStats,
		MethodProjectsList:     r.handleProjectsList,
		MethodProjectInfo:      r.handleProjectInfo,
		MethodProjectClean:     r.handleProjectClean,
		MethodProjectsCleanAll: r.handleProjectsCleanAll,
		MethodMigrateEmbedding: r.handleMigrateEmbedding,

		MethodExplore: r.handleExplore,
		MethodContext: r.handleContext,

		MethodHook: r.handleHook,
	}
	return r
}

// Dispatch routes one request to its handler and shapes the response.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	h, ok := r.handlers[req.Method]
	if !ok {
		r.requests.WithLabelValues(req.Method, "method_not_found").Inc()
		return NewError(req.ID, ccerr.CodeMethodNotFound, "method not found: "+req.Method)
	}

	p, err := decodeParams(req.Params)
	if err != nil {
		r.requests.WithLabelValues(req.Method, "invalid_params").Inc()
		return NewError(req.ID, ccerr.CodeInvalidParams, err.Error())
	}

	result, err := h(ctx, p)
	if err != nil {
		r.requests.WithLabelValues(req.Method, "error").Inc()
		r.logger.Debug("request failed",
			slog.String("method", req.Method), slog.String("error", err.Error()))
		return NewError(req.ID, ccerr.RPCCode(err), ccerr.RPCMessage(err))
	}
	r.requests.WithLabelValues(req.Method, "ok").Inc()
	return NewSuccess(req.ID, result)
}

// resolveProject acquires the store for the request's cwd (defaulting to
// the daemon's working directory).
func (r *Router) resolveProject(p params) (registry.ProjectInfo, *store.Store, error) {
	cwd, err := p.optionalString("cwd", "")
	if err != nil {
		return registry.ProjectInfo{}, nil, err
	}
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return registry.ProjectInfo{}, nil, ccerr.Internal("resolve daemon cwd", err)
		}
	}
	return r.registry.GetOrCreate(cwd)
}

// engineFor builds a retrieval engine over a project store.
func (r *Router) engineFor(st *store.Store) *retrieval.Engine {
	return retrieval.NewEngine(st, r.registry.Embedder())
}

// orchestratorFor returns (building once) the extraction orchestrator for
// a project.
func (r *Router) orchestratorFor(st *store.Store) *extract.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orchestrators[st.ProjectID]; ok {
		return o
	}
	o := extract.New(st, r.registry.Embedder(), r.llm, r.cfg.Extraction, r.logger)
	r.orchestrators[st.ProjectID] = o
	return o
}

// accumulatorFor returns (restoring or creating) the accumulator for a
// (project, session).
func (r *Router) accumulatorFor(ctx context.Context, st *store.Store, sessionID string) (*extract.Accumulator, error) {
	key := st.ProjectID + "\x00" + sessionID
	r.mu.Lock()
	if acc, ok := r.accumulators[key]; ok {
		r.mu.Unlock()
		return acc, nil
	}
	r.mu.Unlock()

	acc, err := extract.NewAccumulator(ctx, st, sessionID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.accumulators[key] = acc
	r.mu.Unlock()
	return acc, nil
}

// SchedulerMetrics exposes the prometheus registry for the scheduler to
// register its counters on.
func (r *Router) SchedulerMetrics() *scheduler.Metrics {
	return scheduler.NewMetrics(r.promReg)
}

// Uptime reports how long the router has served.
func (r *Router) Uptime() time.Duration { return time.Since(r.started) }
