package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chainscope/social-pulse/internal/jobs"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/orchestrator"
	"github.com/chainscope/social-pulse/internal/queue"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type HealthChecker interface {
	Health(ctx context.Context) error
}

type CrawlStatus interface {
	Snapshot() orchestrator.Metrics
}

type JobDispatcher interface {
	DispatchCrawl(ctx context.Context, req orchestrator.CrawlRequest, priority models.Priority) error
	DispatchPendingBatches(ctx context.Context) (int, error)
	DispatchAggregate(ctx context.Context, req jobs.AggregateRequest) error
}

type QueueStats interface {
	Stats() queue.Stats
}

type AggregateReader interface {
	ListByDate(ctx context.Context, date string) ([]models.DailySentimentAggregate, error)
}

// API exposes health, metrics and manual triggers over HTTP
type API struct {
	health     HealthChecker
	crawls     CrawlStatus
	factory    JobDispatcher
	queue      QueueStats
	aggregates AggregateReader
	platforms  []models.Platform
	validate   *validator.Validate
}

type crawlTrigger struct {
	RuleID   uint            `json:"rule_id" validate:"required"`
	Platform models.Platform `json:"platform" validate:"required,oneof=twitter reddit telegram"`
	Priority models.Priority `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
}

// Router builds the HTTP routes
func (a *API) Router() *mux.Router {
	if a.validate == nil {
		a.validate = validator.New()
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", a.healthHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/status", a.statusHandler).Methods("GET")
	router.HandleFunc("/crawl", a.crawlHandler).Methods("POST")
	router.HandleFunc("/pipeline", a.pipelineHandler).Methods("POST")
	router.HandleFunc("/aggregates/{date}", a.listAggregatesHandler).Methods("GET")
	router.HandleFunc("/aggregates/{date}", a.aggregateHandler).Methods("POST")
	return router
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.health.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "timestamp": time.Now().Format(time.RFC3339)})
}

func (a *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": a.platforms,
		"crawls":    a.crawls.Snapshot(),
		"queue":     a.queue.Stats(),
	})
}

func (a *API) crawlHandler(w http.ResponseWriter, r *http.Request) {
	var trigger crawlTrigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validate.Struct(trigger); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if trigger.Priority == "" {
		trigger.Priority = models.PriorityNormal
	}

	req := orchestrator.CrawlRequest{RuleID: trigger.RuleID, Platform: trigger.Platform}
	if err := a.factory.DispatchCrawl(r.Context(), req, trigger.Priority); err != nil {
		writeError(w, dispatchStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"message": "Crawl queued", "request": req})
}

func (a *API) pipelineHandler(w http.ResponseWriter, r *http.Request) {
	dispatched, err := a.factory.DispatchPendingBatches(r.Context())
	if err != nil && dispatched == 0 {
		writeError(w, dispatchStatus(err), err)
		return
	}
	body := map[string]interface{}{"message": "Sentiment pipeline queued", "batches": dispatched}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, body)
}

func (a *API) aggregateHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	req := jobs.AggregateRequest{
		Date:     date,
		Platform: models.Platform(r.URL.Query().Get("platform")),
		Keyword:  r.URL.Query().Get("keyword"),
		Export:   r.URL.Query().Get("export") == "true",
	}
	if err := a.factory.DispatchAggregate(r.Context(), req); err != nil {
		writeError(w, dispatchStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"message": "Aggregation queued", "date": date})
}

func (a *API) listAggregatesHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	aggs, err := a.aggregates.ListByDate(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if aggs == nil {
		aggs = []models.DailySentimentAggregate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"date": date, "aggregates": aggs})
}

func pathDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("date must be YYYY-MM-DD"))
		return "", false
	}
	return date, true
}

func dispatchStatus(err error) int {
	if errors.Is(err, queue.ErrStopped) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, queue.ErrDuplicateJob) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}
