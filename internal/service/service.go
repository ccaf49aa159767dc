package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-service/internal/client"
	"github.com/kjstillabower/forecast-service/internal/merge"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// Emitter receives the terminal event of a forecast request.
type Emitter interface {
	Emit(models.Result)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(models.Result)

// Emit calls f(r).
func (f EmitterFunc) Emit(r models.Result) { f(r) }

// Forecaster produces one terminal Result per request. ok is false when the
// request was cancelled and no event must be emitted.
type Forecaster interface {
	Forecast(ctx context.Context, req models.ForecastRequest) (res models.Result, ok bool)
}

// Request state names, logged at Debug on each transition.
const (
	stateCreated    = "created"
	stateValidating = "validating"
	stateFetching   = "fetching"
	stateMerging    = "merging"
	stateCompleted  = "completed"
)

// ForecastService orchestrates one forecast request: validate, fan out the
// section fetches, wait for all of them, merge, emit.
type ForecastService struct {
	builder        *client.RequestBuilder
	fetcher        client.SectionFetcher
	merger         *merge.Merger
	sectionTimeout time.Duration
	maxConcurrent  int
	supersede      *supersedeRegistry // nil when disabled
	logger         *zap.Logger
	wg             sync.WaitGroup
}

// NewForecastService creates a ForecastService. sectionTimeout <= 0 uses
// client.DefaultTimeout; maxConcurrent <= 0 runs all sections at once.
func NewForecastService(builder *client.RequestBuilder, fetcher client.SectionFetcher, merger *merge.Merger, sectionTimeout time.Duration, maxConcurrent int, logger *zap.Logger) *ForecastService {
	if sectionTimeout <= 0 {
		sectionTimeout = client.DefaultTimeout
	}
	if merger == nil {
		merger = merge.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastService{
		builder:        builder,
		fetcher:        fetcher,
		merger:         merger,
		sectionTimeout: sectionTimeout,
		maxConcurrent:  maxConcurrent,
		logger:         logger,
	}
}

// EnableSupersession makes a newer request for the same location cancel
// the one still in flight. The cancelled request emits nothing.
func (s *ForecastService) EnableSupersession() {
	s.supersede = newSupersedeRegistry()
}

// Request runs the forecast asynchronously and calls emitter.Emit exactly
// once, unless ctx is cancelled first.
func (s *ForecastService) Request(ctx context.Context, req models.ForecastRequest, emitter Emitter) {
	dispatch(ctx, s, &s.wg, req, emitter)
}

// Wait blocks until every asynchronous Request has finished. Used on shutdown.
func (s *ForecastService) Wait() {
	s.wg.Wait()
}

// Forecast is the synchronous form of Request.
func (s *ForecastService) Forecast(ctx context.Context, req models.ForecastRequest) (models.Result, bool) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger).With(zap.String("correlation_id", req.CorrelationID))
	logger.Debug("forecast state", zap.String("state", stateCreated))

	logger.Debug("forecast state", zap.String("state", stateValidating))
	specs, err := s.builder.Build(req)
	if err != nil {
		var ferr *models.ForecastError
		if !errors.As(err, &ferr) {
			ferr = models.NewForecastError(req.CorrelationID, models.KindInvalidRequest, err.Error())
		}
		return s.complete(logger, start, models.Result{Err: ferr}), true
	}

	if s.supersede != nil {
		var release func()
		ctx, release = s.supersede.acquire(ctx, locationKey(req))
		defer release()
	}
	ctx = context.WithValue(ctx, "correlation_id", req.CorrelationID)

	logger.Debug("forecast state", zap.String("state", stateFetching), zap.Int("sections", len(specs)))
	outcomes := s.fetchAll(ctx, specs)

	if errors.Is(ctx.Err(), context.Canceled) {
		reason := "canceled"
		if errors.Is(context.Cause(ctx), errSuperseded) {
			reason = "superseded"
		}
		observability.ForecastsSuppressedTotal.WithLabelValues(reason).Inc()
		logger.Debug("forecast suppressed", zap.String("reason", reason))
		return models.Result{}, false
	}

	logger.Debug("forecast state", zap.String("state", stateMerging))
	res := s.merger.Merge(req.CorrelationID, outcomes)
	if f := res.Forecast; f != nil {
		if len(f.Daily) > req.MaxDailies {
			f.Daily = f.Daily[:req.MaxDailies]
		}
		f.Units = req.Units
		if f.Units == "" {
			f.Units = "metric"
		}
	}
	return s.complete(logger, start, res), true
}

// fetchAll runs every spec under one fan-in deadline and returns the
// outcomes keyed by role once all have resolved.
func (s *ForecastService) fetchAll(ctx context.Context, specs []models.SectionSpec) map[models.Role]models.FetchOutcome {
	fanCtx, cancel := context.WithTimeout(ctx, s.sectionTimeout)
	defer cancel()

	results := make([]models.FetchOutcome, len(specs))
	var g errgroup.Group
	if s.maxConcurrent > 0 {
		g.SetLimit(s.maxConcurrent)
	}
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			results[i] = s.fetcher.Execute(fanCtx, spec, s.sectionTimeout)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make(map[models.Role]models.FetchOutcome, len(specs))
	for i, spec := range specs {
		outcomes[spec.Role] = results[i]
	}
	return outcomes
}

func (s *ForecastService) complete(logger *zap.Logger, start time.Time, res models.Result) models.Result {
	label := "success"
	if res.Err != nil {
		label = string(res.Err.Kind)
		logger.Debug("forecast state", zap.String("state", stateCompleted),
			zap.String("error_kind", label), zap.String("message", res.Err.Message))
	} else {
		logger.Debug("forecast state", zap.String("state", stateCompleted),
			zap.Int("dailies", len(res.Forecast.Daily)), zap.Bool("current", res.Forecast.Current != nil))
	}
	observability.ForecastResultsTotal.WithLabelValues(label).Inc()
	observability.ForecastDuration.Observe(time.Since(start).Seconds())
	return res
}

// dispatch runs f in its own goroutine and emits its result unless suppressed.
func dispatch(ctx context.Context, f Forecaster, wg *sync.WaitGroup, req models.ForecastRequest, emitter Emitter) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if res, ok := f.Forecast(ctx, req); ok {
			emitter.Emit(res)
		}
	}()
}
