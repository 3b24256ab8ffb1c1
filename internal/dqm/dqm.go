// Package dqm implements the Database Queue Manager (spec.md §4.3): one
// Lead queue per database, Workers spawned on demand, intelligent dispatch
// by query tag. The teacher has nothing this close to a per-database
// worker-queue scheduler (it is strictly request/response over a pool with
// no queueing); the goroutine-per-queue worker loop and buffered-channel
// submission are built in the teacher's idiom: goroutine-per-unit workers
// like `pool.go`'s `warmUp`/`reapLoop`, channel-based stop signaling like
// `stopCh`/`statsStopCh`.
package dqm

import (
	"time"

	"github.com/google/uuid"
	"github.com/hydrogen-services/hydrogen/internal/engine"
)

// Tag selects which class of queue a request is routed to.
type Tag string

const (
	TagFast   Tag = "fast"
	TagMedium Tag = "medium"
	TagSlow   Tag = "slow"
	TagCache  Tag = "cache"
)

// allTags lists every spawnable worker tag, in spawn-priority order.
var allTags = []Tag{TagFast, TagMedium, TagSlow, TagCache}

// Request is a query request submitted to a database's queue (spec.md §3
// "Query request"). Exactly one of QueryRef or InlineSQL is set.
type Request struct {
	ID          string
	QueryRef    *int
	InlineSQL   string
	Params      []engine.Param
	TimeoutMs   int
	QueueHint   Tag
	SubmittedTS time.Time
}

// NewRequest fills in ID and SubmittedTS for a caller-built request.
func NewRequest(queryRef *int, inlineSQL string, params []engine.Param, timeoutMs int, hint Tag) Request {
	return Request{
		ID:          uuid.NewString(),
		QueryRef:    queryRef,
		InlineSQL:   inlineSQL,
		Params:      params,
		TimeoutMs:   timeoutMs,
		QueueHint:   hint,
		SubmittedTS: time.Now(),
	}
}

// Result is the outcome of a Request (spec.md §3 "Query result").
type Result struct {
	ID           string
	Success      bool
	Rows         []engine.Row
	Columns      []string
	RowCount     int
	AffectedRows int64
	ExecutionMs  int64
	QueueUsed    Tag
	Err          error
}

// QueueState is the lifecycle state of one queue (spec.md §4.3 "State
// machine per queue").
type QueueState int32

const (
	StateIdle QueueState = iota
	StateDraining
	StateSpawning
	StateShuttingDown
)

func (s QueueState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateSpawning:
		return "spawning"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config holds the DQM's dispatch and spawn tunables.
type Config struct {
	// SpawnThreshold is the pending-queue depth above which the Lead spawns
	// a new Worker for a tag (spec.md §4.3 dispatch step 4).
	SpawnThreshold int
	// MaxWorkersPerTag caps concurrent Workers for one tag.
	MaxWorkersPerTag int
	// FastParamThreshold is the max bound-param count for a SELECT to
	// classify as "fast" rather than "medium" (dispatch step 3).
	FastParamThreshold int
	// SubmitChannelSize sizes each queue's submission channel.
	SubmitChannelSize int
}

// DefaultConfig returns reasonable defaults grounded on the teacher's own
// pool tuning (small buffers, modest worker ceilings for a proxy-scale
// deployment, not a data-center-scale one).
func DefaultConfig() Config {
	return Config{
		SpawnThreshold:     4,
		MaxWorkersPerTag:   4,
		FastParamThreshold: 3,
		SubmitChannelSize:  64,
	}
}
