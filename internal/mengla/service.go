// Package mengla coordinates de-duplicated, cached queries against the
// MengLa collection platform, whose results arrive asynchronously by webhook.
package mengla

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "mengla-gateway/internal/common/errors"
	"mengla-gateway/internal/common/logger"
	"mengla-gateway/internal/common/metrics"
	"mengla-gateway/internal/common/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

type ServiceDependencies struct {
	Cache      Cache
	Dispatcher Dispatcher
	// Notifier is optional; without it other processes are reached by polling the cache.
	Notifier      Notifier
	ExecutionLog  ExecutionLog
	Observability *observability.Observability
	Logger        logger.Logger
}

// Service is the query coordinator. One instance is built at startup and
// shared by every request handler so that webhook deliveries reach waiters.
type Service struct {
	config     *Config
	cache      Cache
	dispatcher Dispatcher
	notifier   Notifier
	execLog    ExecutionLog
	obs        *observability.Observability
	logger     logger.Logger

	flights singleflight.Group

	mu      sync.Mutex
	waiters map[string]chan json.RawMessage
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	s := &Service{
		config:     config,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		execLog:    deps.ExecutionLog,
		obs:        deps.Observability,
		logger:     deps.Logger,
		waiters:    make(map[string]chan json.RawMessage),
	}
	if s.execLog == nil {
		s.execLog = nopExecutionLog{}
	}
	if s.obs == nil {
		s.obs = observability.NewNoop()
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	return s
}

// Query returns the result for params, from the cache when useCache is set and
// an entry exists, otherwise by dispatching a collection run and waiting for
// its webhook delivery. Concurrent queries for the same key share one dispatch.
func (s *Service) Query(ctx context.Context, params QueryParams, useCache bool) (json.RawMessage, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := params.CacheKey()
	start := time.Now()
	ctx, span := s.obs.StartSpan(ctx, "mengla.query",
		attribute.String("mengla.action", params.Action),
		attribute.String("mengla.cache_key", key),
		attribute.Bool("mengla.use_cache", useCache),
	)
	defer span.End()

	data, outcome, err := s.query(ctx, params, key, useCache)

	s.obs.RecordQuery(ctx, params.Action, outcome, time.Since(start))
	span.SetAttributes(attribute.String("mengla.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

func (s *Service) query(ctx context.Context, params QueryParams, key string, useCache bool) (json.RawMessage, string, error) {
	if useCache {
		data, found, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, "error", apperrors.NewCacheError("get", key, err)
		}
		if found {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			s.logger.Debug("Cache hit", map[string]interface{}{
				"action":   params.Action,
				"cacheKey": key,
			})
			return data, "cache_hit", nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	// The flight outlives any single caller: a dispatched run still lands in
	// the cache for whoever asks next.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (interface{}, error) {
		return s.resolve(flightCtx, params, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if apperrors.HasCode(res.Err, apperrors.ErrCodeQueryTimeout) {
				return nil, "timeout", res.Err
			}
			return nil, "error", res.Err
		}
		if res.Shared {
			s.logger.Debug("Joined in-flight query", map[string]interface{}{
				"action":   params.Action,
				"cacheKey": key,
			})
		}
		return res.Val.(json.RawMessage), "resolved", nil
	case <-ctx.Done():
		return nil, "error", ctx.Err()
	}
}

// resolve runs Dispatching -> Polling -> Resolved | TimedOut for one key.
func (s *Service) resolve(ctx context.Context, params QueryParams, key string) (json.RawMessage, error) {
	execID, err := s.dispatcher.Dispatch(ctx, params)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"action":      params.Action,
		"cacheKey":    key,
		"executionId": execID,
	})

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		log.Warn("Failed to encode parameters for execution log", map[string]interface{}{"error": err})
		paramsJSON = nil
	}
	if err := s.execLog.Dispatched(ctx, ExecutionRecord{
		ExecutionID:  execID,
		CacheKey:     key,
		Action:       params.Action,
		Parameters:   paramsJSON,
		Status:       StatusDispatched,
		DispatchedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn("Failed to record dispatched execution", map[string]interface{}{"error": err})
	}

	data, err := s.await(ctx, execID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeQueryTimeout) {
			s.finish(ctx, log, execID, StatusTimedOut)
			log.Warn("Query timed out waiting for webhook", map[string]interface{}{
				"timeout": s.config.QueryTimeout.String(),
			})
		}
		return nil, err
	}

	if err := s.cache.Put(ctx, key, data); err != nil {
		return nil, apperrors.NewCacheError("put", key, err)
	}
	s.finish(ctx, log, execID, StatusResolved)

	log.Info("Query resolved", nil)
	return data, nil
}

func (s *Service) finish(ctx context.Context, log logger.Logger, execID string, status ExecutionStatus) {
	if err := s.execLog.Finished(ctx, execID, status, time.Now().UTC()); err != nil {
		log.Warn("Failed to record execution outcome", map[string]interface{}{
			"status": string(status),
			"error":  err,
		})
	}
}

// await waits for the execution's result. A local delivery wakes it directly;
// deliveries made by other processes are picked up by polling the cache.
func (s *Service) await(ctx context.Context, execID string) (json.RawMessage, error) {
	ch := s.register(execID)
	defer s.unregister(execID)

	timer := time.NewTimer(s.config.QueryTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	poll := func() (json.RawMessage, bool, error) {
		data, found, err := s.cache.Get(ctx, ExecKey(execID))
		if err != nil {
			return nil, false, apperrors.NewCacheError("get", ExecKey(execID), err)
		}
		return data, found, nil
	}

	// The webhook may have landed before we registered.
	if data, found, err := poll(); err != nil || found {
		return data, err
	}

	for {
		select {
		case data := <-ch:
			return data, nil
		case <-ticker.C:
			if data, found, err := poll(); err != nil || found {
				return data, err
			}
		case <-timer.C:
			return nil, apperrors.NewQueryTimeoutError(s.config.QueryTimeout, execID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Service) register(execID string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	s.mu.Lock()
	s.waiters[execID] = ch
	s.mu.Unlock()
	metrics.PendingExecutions.Inc()
	return ch
}

func (s *Service) unregister(execID string) {
	s.mu.Lock()
	delete(s.waiters, execID)
	s.mu.Unlock()
	metrics.PendingExecutions.Dec()
}

// deliver hands data to a local waiter, if any. It never blocks.
func (s *Service) deliver(execID string, data json.RawMessage) bool {
	s.mu.Lock()
	ch, ok := s.waiters[execID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- data:
	default:
	}
	return true
}

func (s *Service) hasWaiter(execID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waiters[execID]
	return ok
}

// UpdateData stores a webhook-delivered result under its execution id and wakes
// whoever is waiting on it. It never writes the query's cache key.
func (s *Service) UpdateData(ctx context.Context, execID string, data json.RawMessage) (json.RawMessage, error) {
	if execID == "" {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewInvalidWebhookPayloadError("executionId is required")
	}

	if err := s.cache.Put(ctx, ExecKey(execID), data); err != nil {
		return nil, apperrors.NewCacheError("put", ExecKey(execID), err)
	}

	woke := s.deliver(execID, data)
	if woke {
		metrics.WebhookDeliveries.WithLabelValues("waiter").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("no_waiter").Inc()
	}

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, execID); err != nil {
			s.logger.Warn("Failed to publish delivery", map[string]interface{}{
				"executionId": execID,
				"error":       err,
			})
		}
	}

	if err := s.execLog.Delivered(ctx, execID, time.Now().UTC()); err != nil {
		s.logger.Warn("Failed to record delivery", map[string]interface{}{
			"executionId": execID,
			"error":       err,
		})
	}

	s.logger.Info("Webhook data stored", map[string]interface{}{
		"executionId": execID,
		"localWaiter": woke,
		"bytes":       len(data),
	})
	return data, nil
}

// ClearCache deletes the entry for params, or everything when params is nil
// and the cache supports bulk clearing. An unsupported bulk clear is a no-op.
func (s *Service) ClearCache(ctx context.Context, params *QueryParams) error {
	if params != nil {
		key := params.CacheKey()
		if err := s.cache.Delete(ctx, key); err != nil {
			return apperrors.NewCacheError("delete", key, err)
		}
		s.logger.Info("Cache entry cleared", map[string]interface{}{
			"action":   params.Action,
			"cacheKey": key,
		})
		return nil
	}

	clearer, ok := s.cache.(Clearer)
	if !ok {
		s.logger.Warn("Bulk cache clear not supported by cache backend", nil)
		return nil
	}
	if err := clearer.Clear(ctx); err != nil {
		if errors.Is(err, ErrBulkClearUnsupported) {
			s.logger.Warn("Bulk cache clear not supported by cache backend", map[string]interface{}{"error": err})
			return nil
		}
		return apperrors.NewCacheError("clear", "*", err)
	}
	s.logger.Info("Cache cleared", nil)
	return nil
}

// RecentExecutions lists the latest execution log rows, newest first.
func (s *Service) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	return s.execLog.Recent(ctx, limit)
}

// Run bridges deliveries made in other processes to local waiters until ctx
// is done. Without a notifier it just blocks.
func (s *Service) Run(ctx context.Context, ready func()) error {
	if s.notifier == nil {
		if ready != nil {
			ready()
		}
		<-ctx.Done()
		return nil
	}
	return s.notifier.Subscribe(ctx, ready, func(execID string) {
		s.onRemoteDelivery(ctx, execID)
	})
}

func (s *Service) onRemoteDelivery(ctx context.Context, execID string) {
	if !s.hasWaiter(execID) {
		return
	}
	data, found, err := s.cache.Get(ctx, ExecKey(execID))
	if err != nil {
		s.logger.Warn("Failed to read delivered execution", map[string]interface{}{
			"executionId": execID,
			"error":       err,
		})
		return
	}
	if found {
		s.deliver(execID, data)
	}
}
