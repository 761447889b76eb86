package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTokenMint     EventType = "token_mint"
	EventTokenBurn     EventType = "token_burn"
	EventTokenTransfer EventType = "token_transfer"
	EventApprovalSet   EventType = "approval_set"
	EventDealStarted   EventType = "deal_started"
	EventDealAccepted  EventType = "deal_accepted"
	EventDealConfirmed EventType = "deal_confirmed"
	EventDealBroken    EventType = "deal_broken"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
//
// Typed subscribers (Subscribe) run synchronously inside Emit, so their
// writes fall under whatever state snapshot guards the emitting operation.
// Stream subscribers (SubscribeAll) only ever see committed history: Emit
// stages their events, Flush delivers the stage after the surrounding block
// commits, and Mark/Rollback discard the staged tail of a reverted
// transaction or block.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	pending  []Event
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type. These handlers receive
// events on Flush, not on Emit (used by stream consumers).
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to the typed subscribers for ev.Type synchronously and
// stages it for the stream subscribers. Each handler is guarded by panic
// recovery so a misbehaving subscriber cannot crash the node or halt block
// sealing.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers[ev.Type]...)
	if len(e.all) > 0 {
		e.pending = append(e.pending, ev)
	}
	e.mu.Unlock()
	deliver(handlers, ev)
}

// Mark returns the current staging position, for a later Rollback.
func (e *Emitter) Mark() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

// Rollback discards every staged event recorded after mark. Callers pair it
// with a state snapshot revert so the stream never reports a mutation that
// was undone.
func (e *Emitter) Rollback(mark int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mark >= 0 && mark <= len(e.pending) {
		e.pending = e.pending[:mark]
	}
}

// Flush delivers all staged events to the stream subscribers in emission
// order and clears the stage. The sealer calls it once per committed block.
func (e *Emitter) Flush() {
	e.mu.Lock()
	staged := e.pending
	e.pending = nil
	all := append([]Handler(nil), e.all...)
	e.mu.Unlock()
	for _, ev := range staged {
		deliver(all, ev)
	}
}

func deliver(handlers []Handler, ev Event) {
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
