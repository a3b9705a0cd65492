package internal

import "sync"

// Notifier delivers scanner events to the consumer.
//
// Delivery contract:
//   - One handler per event kind; setting a handler replaces the previous
//     one (no multi-subscriber fan-out)
//   - Dispatch runs on the scan loop goroutine, the single designated
//     execution context for the whole session
//   - Best-effort single dispatch: no handler registered at fire time
//     means that occurrence is missed, there is no replay queue
type Notifier struct {
	mu      sync.Mutex
	readyH  func(initialized bool)
	decodeH func(DecodeEvent)
}

// NewNotifier creates an empty handler registry.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// SetReadyHandler registers (or replaces) the camera-ready handler.
func (n *Notifier) SetReadyHandler(h func(initialized bool)) {
	n.mu.Lock()
	n.readyH = h
	n.mu.Unlock()
}

// SetDecodeHandler registers (or replaces) the decode-completed handler.
func (n *Notifier) SetDecodeHandler(h func(DecodeEvent)) {
	n.mu.Lock()
	n.decodeH = h
	n.mu.Unlock()
}

// DispatchReady invokes the camera-ready handler, if any. Engine
// goroutine only.
func (n *Notifier) DispatchReady(initialized bool) {
	n.mu.Lock()
	h := n.readyH
	n.mu.Unlock()
	if h != nil {
		h(initialized)
	}
}

// DispatchDecode invokes the decode-completed handler, if any. Engine
// goroutine only.
func (n *Notifier) DispatchDecode(ev DecodeEvent) {
	n.mu.Lock()
	h := n.decodeH
	n.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
