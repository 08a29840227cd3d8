package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueuePMScan enqueues a PM scan.
func (c *Client) EnqueuePMScan(ctx context.Context, payload PMScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewPMScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// EnqueuePartsClassify enqueues a SMART reclassification.
func (c *Client) EnqueuePartsClassify(ctx context.Context, payload PartsClassifyPayload) (*asynq.TaskInfo, error) {
	task, err := NewPartsClassifyTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueuer is the subset of Client used by the HTTP handler.
type Enqueuer interface {
	EnqueuePMScan(ctx context.Context, payload PMScanPayload) (*asynq.TaskInfo, error)
	EnqueuePartsClassify(ctx context.Context, payload PartsClassifyPayload) (*asynq.TaskInfo, error)
}

// Handler exposes HTTP endpoints for job observability and on-demand runs.
type Handler struct {
	inspector *asynq.Inspector
	enqueuer  Enqueuer
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Either
// collaborator may be nil.
func NewHandler(inspector *asynq.Inspector, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/pm-scan", h.enqueuePMScan)
	r.Post("/parts-classify", h.enqueuePartsClassify)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		// a queue that never received a task does not exist yet
		if errors.Is(err, asynq.ErrQueueNotFound) {
			httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
			return
		}
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	out := queueHealth{Queue: QueueDefault}
	if info != nil {
		out = queueHealth{Queue: info.Queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry}
	}
	httpx.JSON(w, http.StatusOK, out)
}

type enqueued struct {
	TaskID string `json:"taskId"`
	Queue  string `json:"queue"`
}

func (h *Handler) enqueuePMScan(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgParam(w, r)
	if !ok {
		return
	}
	info, err := h.enqueuer.EnqueuePMScan(r.Context(), PMScanPayload{OrgID: orgID})
	h.respondEnqueued(w, TaskPMScan, info, err)
}

func (h *Handler) enqueuePartsClassify(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgParam(w, r)
	if !ok {
		return
	}
	info, err := h.enqueuer.EnqueuePartsClassify(r.Context(), PartsClassifyPayload{OrgID: orgID})
	h.respondEnqueued(w, TaskPartsClassify, info, err)
}

func (h *Handler) orgParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "jobs_unavailable", "Job queue unavailable", "")
		return 0, false
	}
	raw := r.URL.Query().Get("orgId")
	if raw == "" {
		return 0, true
	}
	orgID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orgID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Invalid orgId", "orgId must be a positive integer")
		return 0, false
	}
	return orgID, true
}

func (h *Handler) respondEnqueued(w http.ResponseWriter, task string, info *asynq.TaskInfo, err error) {
	if err != nil {
		h.logger.Error("enqueue job", slog.String("task", task), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := enqueued{Queue: QueueDefault}
	if info != nil {
		out = enqueued{TaskID: info.ID, Queue: info.Queue}
	}
	httpx.Data(w, http.StatusAccepted, out)
}
