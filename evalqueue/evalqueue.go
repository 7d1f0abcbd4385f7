// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evalqueue is the stake-priority evaluation queue (spec
// §4.13): a bounded max-heap keyed on miner stake (FIFO within stake
// ties), a global concurrency semaphore, a per-agent concurrency
// clamp, and a broadcast-plus-cache of results keyed by request id.
package evalqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/platform-validator/utils/constants"
)

// ErrQueueFull is returned by Enqueue once the queue holds
// constants.MaxQueueSize requests.
var ErrQueueFull = errors.New("evalqueue: queue is full")

// Agent describes the agent under evaluation.
type Agent struct {
	Hash    string
	Source  []byte
	EnvVars map[string]string
}

// Request is one evaluation job (spec §2 EvalRequest).
type Request struct {
	ID          string
	Agent       Agent
	MinerHotkey string
	MinerStake  uint64
	Epoch       uint64
	Dataset     string
	MaxTasks    int

	seq uint64 // FIFO tiebreaker assigned at Enqueue time
}

// TaskOutcome is one task's pass/score/duration/error result.
type TaskOutcome struct {
	TaskID     string
	Passed     bool
	Score      float64
	DurationMS int64
	Error      string
}

// Result is the aggregate outcome of a Request (spec §2 EvalResult).
type Result struct {
	RequestID string
	Tasks     []TaskOutcome
	Failed    bool
	Error     string
}

// Evaluator runs a Request to completion. It is the external
// collaborator (the WASM-backed challenge harness); this package only
// depends on this narrow interface.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// requestHeap is a container/heap max-heap on (MinerStake desc, seq
// asc), giving FIFO order within equal stake.
type requestHeap []Request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].MinerStake != h[j].MinerStake {
		return h[i].MinerStake > h[j].MinerStake
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(Request)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Processor owns the queue, dispatches work under the global and
// per-agent concurrency limits, and publishes results.
type Processor struct {
	evaluator Evaluator
	log       log.Logger

	mu      sync.Mutex
	queue   requestHeap
	nextSeq uint64
	maxSize int

	globalSem chan struct{}

	agentMu       sync.Mutex
	agentInFlight map[string]int
	agentLimit    int

	resultsMu sync.RWMutex
	results   map[string]Result

	subMu       sync.Mutex
	subscribers []chan Result

	wg sync.WaitGroup
}

// NewProcessor builds a Processor. agentLimit clamps per-agent
// in-flight requests to [MinTasksPerAgent, MaxTasksPerAgent]; values
// outside that range are clamped into it.
func NewProcessor(evaluator Evaluator, logger log.Logger, agentLimit int) *Processor {
	if agentLimit < constants.MinTasksPerAgent {
		agentLimit = constants.MinTasksPerAgent
	}
	if agentLimit > constants.MaxTasksPerAgent {
		agentLimit = constants.MaxTasksPerAgent
	}
	return &Processor{
		evaluator:     evaluator,
		log:           logger,
		maxSize:       constants.MaxQueueSize,
		globalSem:     make(chan struct{}, constants.MaxGlobalConcurrentTask),
		agentInFlight: make(map[string]int),
		agentLimit:    agentLimit,
		results:       make(map[string]Result),
	}
}

// Enqueue adds req to the queue, refusing once the queue is full.
func (p *Processor) Enqueue(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.maxSize {
		return ErrQueueFull
	}
	req.seq = p.nextSeq
	p.nextSeq++
	heap.Push(&p.queue, req)
	return nil
}

// Subscribe returns a channel that receives every published Result.
// Run never blocks delivering to it: a slow subscriber that has fallen
// behind simply misses the current result rather than stalling the
// processor (it can still look the result up by id via Result).
func (p *Processor) Subscribe() <-chan Result {
	ch := make(chan Result, 256)
	p.subMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subMu.Unlock()
	return ch
}

func (p *Processor) publish(res Result) {
	p.resultsMu.Lock()
	p.results[res.RequestID] = res
	p.resultsMu.Unlock()

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- res:
		default:
			// Drop for this slow subscriber rather than block the
			// processor; it can still look the result up by id.
		}
	}
}

// Result looks up a previously published result by request id.
func (p *Processor) Result(requestID string) (Result, bool) {
	p.resultsMu.RLock()
	defer p.resultsMu.RUnlock()
	r, ok := p.results[requestID]
	return r, ok
}

// Len reports the number of requests currently queued.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run drives the dispatch loop until ctx is cancelled, at which point
// it drains any still-queued requests with explicit failure results
// and returns once every in-flight evaluation has completed.
func (p *Processor) Run(ctx context.Context) {
	defer p.wg.Wait()

	const idleBackoff = 10 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			p.drainWithFailure("evalqueue: shutdown before evaluation started")
			return
		default:
		}

		req, ok := p.tryDispatchNext()
		if !ok {
			select {
			case <-ctx.Done():
				p.drainWithFailure("evalqueue: shutdown before evaluation started")
				return
			case <-time.After(idleBackoff):
			}
			continue
		}

		p.runRequest(ctx, req)
	}
}

// tryDispatchNext pops the highest-priority request whose agent is
// under its concurrency limit. Requests for agents at their limit are
// left in the queue and retried on the next loop iteration.
func (p *Processor) tryDispatchNext() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var skipped []Request
	defer func() {
		for _, s := range skipped {
			heap.Push(&p.queue, s)
		}
	}()

	for p.queue.Len() > 0 {
		next := heap.Pop(&p.queue).(Request)

		p.agentMu.Lock()
		inFlight := p.agentInFlight[next.Agent.Hash]
		if inFlight >= p.agentLimit {
			p.agentMu.Unlock()
			skipped = append(skipped, next)
			continue
		}
		p.agentInFlight[next.Agent.Hash] = inFlight + 1
		p.agentMu.Unlock()

		select {
		case p.globalSem <- struct{}{}:
		default:
			// Global concurrency exhausted; release the agent slot and
			// leave the request for the next loop iteration.
			p.agentMu.Lock()
			p.agentInFlight[next.Agent.Hash]--
			p.agentMu.Unlock()
			skipped = append(skipped, next)
			continue
		}
		return next, true
	}
	return Request{}, false
}

func (p *Processor) runRequest(ctx context.Context, req Request) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			<-p.globalSem
			p.agentMu.Lock()
			p.agentInFlight[req.Agent.Hash]--
			p.agentMu.Unlock()
		}()

		res, err := p.evaluator.Evaluate(ctx, req)
		if err != nil {
			res = Result{RequestID: req.ID, Failed: true, Error: err.Error()}
		}
		res.RequestID = req.ID
		p.publish(res)
	}()
}

// drainWithFailure empties the queue, publishing an explicit failure
// result for every request still pending (spec §4.13 shutdown
// semantics).
func (p *Processor) drainWithFailure(reason string) {
	p.mu.Lock()
	pending := make([]Request, len(p.queue))
	copy(pending, p.queue)
	p.queue = nil
	p.mu.Unlock()

	for _, req := range pending {
		p.publish(Result{RequestID: req.ID, Failed: true, Error: reason})
	}
}
