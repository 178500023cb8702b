package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/execue/journal"
	"github.com/chazu/execue/pkg/bytecode"
	"github.com/chazu/execue/vm"
)

var log = commonlog.GetLogger("execue.server")

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one program run submitted to the pool.
type Job struct {
	ID       string // Generated when empty
	Name     string
	Program  *bytecode.Module
	Profile  vm.Profile // Fallback chains come from Program
	Bindings map[string]int
	Memory   map[int]int64
}

// Result is the outcome of a Job.
type Result struct {
	ID        string
	Name      string
	Run       vm.RunResult
	Output    []string       // Sink lines
	Dominions map[string]int // Visible bindings after the run
	Stack     []int64        // Operand stack after the run
}

// poolRequest is a job waiting for a worker.
type poolRequest struct {
	ctx  context.Context
	job  Job
	done chan poolResult
}

type poolResult struct {
	value Result
	err   error
}

// Pool runs jobs on a fixed number of worker goroutines. Every run gets its
// own execution context and memory bank; the engine and its sealed registry
// are shared by all workers.
type Pool struct {
	engine   *vm.Engine
	size     int
	requests chan poolRequest
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	tracer  trace.Tracer
	journal *journal.Store
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithJournal records every finished run in store.
func WithJournal(store *journal.Store) PoolOption {
	return func(p *Pool) { p.journal = store }
}

// WithTracer sets the tracer used for run spans. The default comes from
// the global tracer provider.
func WithTracer(t trace.Tracer) PoolOption {
	return func(p *Pool) { p.tracer = t }
}

// NewPool creates a Pool with size workers and starts them. A nil engine
// uses the core opcode set.
func NewPool(size int, engine *vm.Engine, opts ...PoolOption) *Pool {
	if size < 1 {
		size = 1
	}
	if engine == nil {
		engine = vm.NewEngine(nil)
	}
	p := &Pool{
		engine:   engine,
		size:     size,
		requests: make(chan poolRequest),
		quit:     make(chan struct{}),
		tracer:   otel.Tracer("github.com/chazu/execue/server"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// loop processes requests until the pool stops.
func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			value, err := p.execute(req.ctx, req.job)
			req.done <- poolResult{value: value, err: err}
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics in opcode handlers.
func (p *Pool) execute(ctx context.Context, job Job) (result Result, err error) {
	ctx, span := p.tracer.Start(ctx, "execue.run", trace.WithAttributes(
		attribute.String("execue.run.id", job.ID),
		attribute.String("execue.run.name", job.Name),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run %s panicked: %v", job.ID, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	result, err = p.run(job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetAttributes(
		attribute.String("execue.run.state", result.Run.State.String()),
		attribute.Int("execue.run.steps", result.Run.Steps),
		attribute.Int("execue.run.faults", len(result.Run.Faults)),
		attribute.Int("execue.run.fallbacks", result.Run.Fallbacks),
	)
	if result.Run.State != vm.StateHalted {
		span.SetStatus(codes.Error, result.Run.Err().Error())
	}

	if p.journal != nil {
		entry := journal.FromResult(job.ID, job.Name, job.Program, result.Run, result.Output)
		if err := p.journal.RecordRun(ctx, entry); err != nil {
			log.Errorf("journal run %s: %s", job.ID, err)
		}
	}
	return result, nil
}

func (p *Pool) run(job Job) (Result, error) {
	if job.Program == nil {
		return Result{}, errors.New("job has no program")
	}

	var tr vm.Transcript
	ctx, err := vm.NewContext(job.Profile.MemoryCapacity, job.Bindings,
		vm.WithSink(tr.Sink()), vm.WithMemory(job.Memory))
	if err != nil {
		return Result{}, err
	}

	res, err := p.engine.RunModule(job.Program, ctx, job.Profile)
	if err != nil {
		return Result{}, err
	}
	log.Debugf("run %s (%s): %s after %d step(s)", job.ID, job.Name, res.State, res.Steps)

	return Result{
		ID:        job.ID,
		Name:      job.Name,
		Run:       res,
		Output:    tr.Lines(),
		Dominions: ctx.Scopes.Snapshot(),
		Stack:     ctx.Stack(),
	}, nil
}

// Do submits a job and blocks until a worker has run it or ctx is done.
func (p *Pool) Do(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	req := poolRequest{
		ctx:  ctx,
		job:  job,
		done: make(chan poolResult, 1),
	}

	select {
	case p.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.quit:
		return Result{}, ErrPoolStopped
	}

	select {
	case r := <-req.done:
		return r.value, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RunBatch runs every job with at most Size jobs in flight. Results are in
// job order. The first error cancels the jobs that have not started.
func (p *Pool) RunBatch(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for i := range jobs {
		g.Go(func() error {
			r, err := p.Do(gctx, jobs[i])
			if err != nil {
				return fmt.Errorf("job %d (%s): %w", i, jobs[i].Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Stop shuts down the workers. Runs already executing finish first.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
