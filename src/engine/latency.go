package engine

import (
	"container/heap"
	"math/rand"
)

type ActionType int

const (
	ActionOrderSend       ActionType = 0
	ActionCancel          ActionType = 1
	ActionModify          ActionType = 2
	ActionAcknowledgeFill ActionType = 3
	ActionMarketUpdate    ActionType = 4
)

const numActionTypes = 5

// Action is a strategy-originated instruction deferred by the latency model.
type Action struct {
	Type      ActionType
	IsBuy     bool
	PriceTick int64
	Quantity  int64
	OrderID   int64
	IsPong    bool
}

type queuedAction struct {
	executionUs int64
	seq         int64
	action      Action
	index       int
}

type actionHeap []*queuedAction

func (h actionHeap) Len() int { return len(h) }

func (h actionHeap) Less(i, j int) bool {
	if h[i].executionUs != h[j].executionUs {
		return h[i].executionUs < h[j].executionUs
	}
	// sequence number keeps equal execution times fifo
	return h[i].seq < h[j].seq
}

func (h actionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *actionHeap) Push(x any) {
	entry := x.(*queuedAction)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

type latencyBounds struct {
	Min int64
	Max int64
}

// LatencyQueue defers actions by a uniform random delay sampled per action
// type from the shared simulation PRNG.
type LatencyQueue struct {
	rng     *rand.Rand
	bounds  [numActionTypes]latencyBounds
	pending actionHeap
	nextSeq int64
}

func NewLatencyQueue(rng *rand.Rand) *LatencyQueue {
	lq := &LatencyQueue{
		rng:     rng,
		pending: make(actionHeap, 0),
	}
	heap.Init(&lq.pending)
	return lq
}

// ResetLatencyProfile sets the (min, max) microsecond bounds for every action
// type. Each pair must satisfy 0 <= min <= max.
func (lq *LatencyQueue) ResetLatencyProfile(
	orderSendMin, orderSendMax,
	cancelMin, cancelMax,
	modifyMin, modifyMax,
	acknowledgeFillMin, acknowledgeFillMax,
	marketUpdateMin, marketUpdateMax int64,
) error {
	proposed := [numActionTypes]latencyBounds{
		{Min: orderSendMin, Max: orderSendMax},
		{Min: cancelMin, Max: cancelMax},
		{Min: modifyMin, Max: modifyMax},
		{Min: acknowledgeFillMin, Max: acknowledgeFillMax},
		{Min: marketUpdateMin, Max: marketUpdateMax},
	}
	for action, b := range proposed {
		if b.Min < 0 || b.Min > b.Max {
			return &InvalidLatencyBoundsError{Action: ActionType(action), Min: b.Min, Max: b.Max}
		}
	}
	lq.bounds = proposed
	return nil
}

// ComputeExecutionLatency samples a uniform delay in [min, max] for the type.
func (lq *LatencyQueue) ComputeExecutionLatency(actionType ActionType) int64 {
	b := lq.bounds[actionType]
	if b.Max == b.Min {
		return b.Min
	}
	return b.Min + lq.rng.Int63n(b.Max-b.Min+1)
}

// Schedule enqueues the action at now + sampled latency and returns the
// execution time.
func (lq *LatencyQueue) Schedule(action Action, nowUs int64) int64 {
	executionUs := nowUs + lq.ComputeExecutionLatency(action.Type)
	entry := &queuedAction{
		executionUs: executionUs,
		seq:         lq.nextSeq,
		action:      action,
	}
	lq.nextSeq++
	heap.Push(&lq.pending, entry)
	return executionUs
}

// ProcessUntil pops every action due at or before tsUs, applying each in
// (execution time, sequence) order.
func (lq *LatencyQueue) ProcessUntil(tsUs int64, apply func(Action)) {
	for lq.pending.Len() > 0 && lq.pending[0].executionUs <= tsUs {
		entry := heap.Pop(&lq.pending).(*queuedAction)
		apply(entry.action)
	}
}

func (lq *LatencyQueue) IsEmpty() bool {
	return lq.pending.Len() == 0
}

func (lq *LatencyQueue) Size() int {
	return lq.pending.Len()
}

func (lq *LatencyQueue) Bounds(actionType ActionType) (min int64, max int64) {
	b := lq.bounds[actionType]
	return b.Min, b.Max
}
