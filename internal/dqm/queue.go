package dqm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
	"github.com/hydrogen-services/hydrogen/internal/pool"
)

// pendingRequest pairs a Request with the channel its Result is delivered
// on. resultCh is buffered(1) so the worker's send never blocks even after
// the submitter has stopped waiting (spec.md §4.3: "a cancelled await
// discards the result when it eventually arrives").
type pendingRequest struct {
	req      Request
	resultCh chan Result
}

// queue is one Lead or Worker for a database/tag pair.
type queue struct {
	database string
	tag      Tag
	isLead   bool

	pool    *pool.Pool
	adapter engine.Adapter

	submitCh chan *pendingRequest
	stopCh   chan struct{}
	done     chan struct{}

	state atomic.Int32
	depth atomic.Int64
}

func newQueue(database string, tag Tag, isLead bool, p *pool.Pool, adapter engine.Adapter, bufSize int) *queue {
	q := &queue{
		database: database,
		tag:      tag,
		isLead:   isLead,
		pool:     p,
		adapter:  adapter,
		submitCh: make(chan *pendingRequest, bufSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) State() QueueState { return QueueState(q.state.Load()) }
func (q *queue) Depth() int64      { return q.depth.Load() }

func (q *queue) setState(s QueueState) { q.state.Store(int32(s)) }

func (q *queue) submit(pr *pendingRequest) bool {
	select {
	case q.submitCh <- pr:
		q.depth.Add(1)
		return true
	default:
		return false
	}
}

func (q *queue) run() {
	defer close(q.done)
	for {
		select {
		case pr := <-q.submitCh:
			q.handle(pr)
		case <-q.stopCh:
			q.setState(StateShuttingDown)
			q.drain()
			return
		}
	}
}

// drain finishes whatever is already buffered before the queue exits. The
// queue holds no connection of its own: tryExecute acquires one per request
// and hands it back before returning.
func (q *queue) drain() {
	for {
		select {
		case pr := <-q.submitCh:
			q.handle(pr)
		default:
			return
		}
	}
}

func (q *queue) handle(pr *pendingRequest) {
	q.depth.Add(-1)
	q.setState(StateDraining)
	result := q.execute(pr.req)
	pr.resultCh <- result
	q.setState(StateIdle)
}

// execute runs one request, retrying once on a fresh handle if the first
// attempt surfaces Unavailable (spec.md §4.3: "a worker that encounters
// Disconnected must retry once on a fresh handle before surfacing
// Unavailable").
func (q *queue) execute(req Request) Result {
	start := time.Now()
	ctx := context.Background()
	var cancel context.CancelFunc
	if req.TimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	rows, res, err := q.tryExecute(ctx, req)
	if err != nil && herr.KindOf(err) == herr.Unavailable {
		rows, res, err = q.tryExecute(ctx, req)
	}

	out := Result{
		ID:          req.ID,
		ExecutionMs: time.Since(start).Milliseconds(),
		QueueUsed:   q.tag,
	}
	if err != nil {
		out.Success = false
		out.Err = err
		return out
	}

	out.Success = true
	out.Rows = rows
	out.RowCount = len(rows)
	if res != nil {
		out.AffectedRows = res.RowsAffected
	}
	if len(rows) > 0 {
		cols := make([]string, 0, len(rows[0]))
		for c := range rows[0] {
			cols = append(cols, c)
		}
		out.Columns = cols
	}
	return out
}

// tryExecute acquires one handle, runs the statement, and discards the
// handle (instead of returning it idle) when the failure looks like a
// dropped connection, so the pool substitutes a fresh one on next Acquire.
func (q *queue) tryExecute(ctx context.Context, req Request) ([]engine.Row, *engine.Result, error) {
	pc, err := q.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	sqlText, params, err := q.adapter.Rewrite(req.InlineSQL, req.Params)
	if err != nil {
		pc.Return()
		return nil, nil, herr.Wrap(herr.InvalidInput, "rewriting named parameters", err)
	}

	rows, res, err := pc.Handle().Execute(ctx, sqlText, params)
	if err != nil && herr.KindOf(err) == herr.Unavailable {
		q.pool.Discard(pc)
		return nil, nil, err
	}
	pc.Return()
	return rows, res, err
}

// stop signals the queue to finish in-flight work and exit. Blocks until
// the worker goroutine has drained and returned.
func (q *queue) stop() {
	close(q.stopCh)
	<-q.done
}
