package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"

	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/logger"
	"github.com/fuchsia74/modelcheck/common/random"
	"github.com/fuchsia74/modelcheck/model"
	"github.com/fuchsia74/modelcheck/monitor"
	"github.com/fuchsia74/modelcheck/relay/detector"
)

const stoppedByUserMessage = "Detection stopped by user"

const (
	idlePollInterval    = 500 * time.Millisecond
	semaphoreRetryDelay = 2 * time.Second
)

// Pool drains the probe queue. Admission control is entirely the two
// redis semaphores; the pool size only bounds this node's parallelism.
type Pool struct {
	size int

	leasingPaused atomic.Bool

	mu     sync.Mutex
	active map[string]context.CancelFunc // job id -> cancel of in-flight probe

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = config.DetectionWorkers
	}
	return &Pool{
		size:   size,
		active: map[string]context.CancelFunc{},
	}
}

// Start launches the workers plus the delayed-job promoter.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.stop = cancel
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := PromoteDueJobs(ctx); err != nil {
					logger.Logger.Warn("failed to promote delayed jobs", zap.Error(err))
				}
			}
		}
	}()
	logger.Logger.Info("detection worker pool started", zap.Int("workers", p.size))
}

// Shutdown cancels the workers' context, which also aborts in-flight
// probes, and waits for every worker and the promoter to return.
func (p *Pool) Shutdown() {
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, worker int) {
	lg := logger.Logger.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		if p.leasingPaused.Load() {
			sleepCtx(ctx, idlePollInterval)
			continue
		}

		job, err := Lease(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lg.Warn("failed to lease job", zap.Error(err))
			}
			sleepCtx(ctx, idlePollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, idlePollInterval)
			continue
		}

		// Stop flag wins over anything already leased.
		if IsStopped(ctx) {
			complete := Fail(ctx, job, stoppedByUserMessage)
			p.recordOutcome(ctx, job, detector.Result{
				Status:       model.ProbeStatusFail,
				ErrorMessage: stoppedByUserMessage,
			}, complete)
			continue
		}

		p.process(ctx, lg, job)
	}
}

func (p *Pool) process(ctx context.Context, lg glog.Logger, job *Job) {
	cfg, err := model.GetSchedulerConfig()
	if err != nil {
		lg.Warn("failed to load scheduler config, using defaults", zap.Error(err))
		cfg = &model.SchedulerConfig{
			ChannelConcurrency: config.ChannelConcurrency,
			GlobalConcurrency:  config.MaxGlobalConcurrency,
			MinDelayMs:         config.DetectionMinDelayMs,
			MaxDelayMs:         config.DetectionMaxDelayMs,
		}
	}

	ok, err := AcquireGlobal(ctx, cfg.GlobalConcurrency)
	if err != nil || !ok {
		_ = Requeue(ctx, job, semaphoreRetryDelay)
		return
	}
	defer func() {
		if err := ReleaseGlobal(context.Background()); err != nil {
			lg.Warn("failed to release global semaphore", zap.Error(err))
		}
	}()

	ok, err = AcquireChannel(ctx, job.ChannelId, cfg.ChannelConcurrency)
	if err != nil || !ok {
		_ = Requeue(ctx, job, semaphoreRetryDelay)
		return
	}
	defer func() {
		if err := ReleaseChannel(context.Background(), job.ChannelId); err != nil {
			lg.Warn("failed to release channel semaphore", zap.Error(err))
		}
	}()

	// Anti-burst jitter so a bulk trigger does not hammer one upstream.
	if cfg.MaxDelayMs > 0 && cfg.MaxDelayMs >= cfg.MinDelayMs {
		jitter := time.Duration(random.RandRange(cfg.MinDelayMs, cfg.MaxDelayMs+1)) * time.Millisecond
		if !sleepCtx(ctx, jitter) {
			_ = Requeue(ctx, job, semaphoreRetryDelay)
			return
		}
	}

	probeCtx, cancel := context.WithCancel(ctx)
	p.registerActive(job.Id, cancel)
	result := detector.Probe(probeCtx, job.Input)
	wasCancelled := probeCtx.Err() != nil
	p.unregisterActive(job.Id)
	cancel()

	if wasCancelled && IsStopped(ctx) {
		result.Status = model.ProbeStatusFail
		result.ErrorMessage = stoppedByUserMessage
		complete := Fail(ctx, job, stoppedByUserMessage)
		p.recordOutcome(context.Background(), job, result, complete)
		return
	}

	if result.Status == model.ProbeStatusFail {
		job.Attempts++
		if job.Attempts < job.MaxAttempts {
			lg.Debug("probe failed, scheduling retry",
				zap.String("job", job.Id),
				zap.Int("attempt", job.Attempts),
				zap.String("error", result.ErrorMessage))
			job.LastError = result.ErrorMessage
			if err := Requeue(ctx, job, RetryDelay(job.Attempts)); err == nil {
				return
			}
			// fall through to terminal failure when the requeue itself fails
		}
		complete := Fail(ctx, job, result.ErrorMessage)
		p.recordOutcome(ctx, job, result, complete)
		return
	}

	complete := Complete(ctx, job)
	p.recordOutcome(ctx, job, result, complete)
}

// recordOutcome inserts a new ProbeLog row, refreshes the model row and
// publishes a progress event. Probe logs are append-only.
func (p *Pool) recordOutcome(ctx context.Context, job *Job, result detector.Result, modelComplete bool) {
	probeLog := &model.ProbeLog{
		ModelId:         job.ModelId,
		ChannelId:       job.ChannelId,
		Endpoint:        string(job.Endpoint),
		Status:          result.Status,
		LatencyMs:       result.LatencyMs,
		UpstreamStatus:  result.UpstreamStatus,
		ErrorMessage:    result.ErrorMessage,
		ResponsePreview: result.ResponsePreview,
	}
	if err := probeLog.Insert(); err != nil {
		logger.Logger.Error("failed to insert probe log", zap.Error(err))
	}

	if result.Status == model.ProbeStatusSuccess {
		if err := model.RecordProbeSuccess(job.ModelId, string(job.Endpoint), result.LatencyMs); err != nil {
			logger.Logger.Error("failed to record probe success", zap.Error(err))
		}
	} else {
		if err := model.RecordProbeFailure(job.ModelId); err != nil {
			logger.Logger.Error("failed to record probe failure", zap.Error(err))
		}
	}

	monitor.ObserveProbe(string(job.Endpoint), result.Status, result.LatencyMs)

	Publish(ctx, Event{
		Kind:            EventProgress,
		ChannelId:       job.ChannelId,
		ModelId:         job.ModelId,
		ModelName:       job.ModelName,
		Status:          result.Status,
		Latency:         result.LatencyMs,
		EndpointType:    string(job.Endpoint),
		IsModelComplete: modelComplete,
		Message:         result.ErrorMessage,
	})
}

func (p *Pool) registerActive(jobId string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[jobId] = cancel
}

func (p *Pool) unregisterActive(jobId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, jobId)
}

// cancelActive aborts every in-flight probe on this node.
func (p *Pool) cancelActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.active {
		cancel()
	}
	return len(p.active)
}

// PauseAndDrain implements the stop operation: set the stop flag, pause
// leasing, cancel in-flight probes, drop queued jobs, reset the
// semaphores and resume. Returns the number of cleared jobs. Idempotent:
// a second call clears nothing and still succeeds.
func (p *Pool) PauseAndDrain(ctx context.Context) (int64, error) {
	if err := SetStopFlag(ctx); err != nil {
		return 0, err
	}
	p.leasingPaused.Store(true)
	defer p.leasingPaused.Store(false)

	cancelled := p.cancelActive()
	if cancelled > 0 {
		logger.Logger.Info("cancelled in-flight probes", zap.Int("count", cancelled))
	}

	cleared, err := DropQueued(ctx)
	if err != nil {
		return 0, err
	}

	// Give cancelled probes a moment to unwind before zeroing counters.
	sleepCtx(ctx, 100*time.Millisecond)
	if err := ResetSemaphores(ctx); err != nil {
		return cleared, err
	}
	return cleared, nil
}

// sleepCtx sleeps unless the context ends first; reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
