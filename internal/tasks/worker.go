package tasks

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

// pollTimeout bounds each blocking dequeue so workers notice shutdown.
var pollTimeout = 5 * time.Second

// Assessor runs the risk engine against one event.
type Assessor interface {
	AssessEvent(identity risk.IdentityContext, event risk.ActivityEvent, change *risk.PrivilegeChange) risk.RiskAssessment
}

// RecordStore persists completed assessment records.
type RecordStore interface {
	Save(ctx context.Context, rec *store.AssessmentRecord) error
}

// AssessObserver records pipeline metrics for processed tasks. Satisfied by
// metrics.Metrics.
type AssessObserver interface {
	RecordAssessment(source string, assessment *risk.RiskAssessment, duration time.Duration)
}

// PoolConfig wires a worker pool to its collaborators. Store, Webhooks,
// Events and Observer are optional; a nil field skips that fan-out.
type PoolConfig struct {
	Workers  int
	Engine   Assessor
	Broker   *Broker
	Results  *ResultBackend
	Store    RecordStore
	Webhooks webhooks.WebhookEmitter
	Events   events.EventEmitter
	Observer AssessObserver
	Source   string // CloudEvent source, defaults to the worker process
}

// Pool drains the task queue through the engine with a fixed set of workers.
type Pool struct {
	config PoolConfig
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewPool creates a worker pool. Call Start to begin consuming.
func NewPool(config PoolConfig) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Source == "" {
		config.Source = events.SourceWorker
	}
	return &Pool{
		config: config,
		logger: log.New(log.Writer(), "[Worker] ", log.LstdFlags),
	}
}

// Start launches the fixed worker set. Workers exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Printf("👷 Started %d assessment workers", p.config.Workers)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.config.Broker.Dequeue(ctx, pollTimeout)
		if errors.Is(err, ErrNoTask) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Printf("⚠️  Worker %d dequeue failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.process(task)
	}
}

// process runs one task through the engine and fans the outcome out. It uses
// a fresh context so an in-flight task finishes its writes during shutdown.
func (p *Pool) process(task *Task) {
	started := time.Now()
	result := p.config.Engine.AssessEvent(task.Identity, task.Event, task.PrivilegeChange)
	assessment := &result
	if p.config.Observer != nil {
		p.config.Observer.RecordAssessment("async", assessment, time.Since(started))
	}
	p.logger.Printf("Task %s assessed: user=%s score=%.2f action=%s",
		task.TaskID, task.Identity.UserID, assessment.TotalScore, assessment.Action)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stored := true
	if p.config.Store != nil {
		rec := &store.AssessmentRecord{
			TaskID:          task.TaskID,
			Identity:        task.Identity,
			Event:           task.Event,
			PrivilegeChange: task.PrivilegeChange,
			Assessment:      assessment,
			CreatedAt:       time.Now().UTC(),
		}
		if err := p.config.Store.Save(ctx, rec); err != nil {
			p.logger.Printf("❌ Failed to persist record %s: %v", task.TaskID, err)
			stored = false
		}
	}

	// An unsaved record keeps the result pending so the submitter can
	// detect the loss instead of reading a completed status with no row.
	if stored {
		if err := p.config.Results.MarkCompleted(ctx, task.TaskID, assessment); err != nil {
			p.logger.Printf("⚠️  Failed to mark result %s: %v", task.TaskID, err)
		}
	}

	p.publish(task, assessment)
}

// publish emits bus events and webhook deliveries for one completed task.
func (p *Pool) publish(task *Task, assessment *risk.RiskAssessment) {
	userID := task.Identity.UserID

	if p.config.Events != nil {
		data := map[string]interface{}{
			"task_id":    task.TaskID,
			"source":     "async",
			"user_id":    userID,
			"assessment": assessment,
		}
		p.config.Events.Emit(events.TypeAssessmentCompleted, p.config.Source, userID, data)
		if assessment.AccountFrozen {
			p.config.Events.Emit(events.TypeAccountFrozen, p.config.Source, userID, data)
		}
		if assessment.SessionInvalidated {
			p.config.Events.Emit(events.TypeSessionInvalidated, p.config.Source, userID, data)
		}
	}

	if p.config.Webhooks != nil {
		delivery := &webhooks.Delivery{
			TaskID:          task.TaskID,
			Source:          "async",
			Identity:        task.Identity,
			Event:           task.Event,
			PrivilegeChange: task.PrivilegeChange,
			Assessment:      assessment,
		}
		p.config.Webhooks.Emit(webhooks.EventAssessmentCompleted, delivery)
		if assessment.AccountFrozen {
			p.config.Webhooks.Emit(webhooks.EventAccountFrozen, delivery)
		}
		if assessment.SessionInvalidated {
			p.config.Webhooks.Emit(webhooks.EventSessionInvalidated, delivery)
		}
	}
}
