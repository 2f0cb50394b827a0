package device

import "sync"

// Handler is invoked with the send timestamp and payload of a dispatched
// message. It runs on the receive goroutine, or on the single serialized
// dispatch worker when asynchronous dispatch is enabled (see
// WithAsyncDispatch).
type Handler func(sendTime int64, payload []byte)

// handlerRegistry maps a MessageTypeID to at most one callback. Lookups take
// the read lock only long enough to copy the callback reference out;
// invocation always happens outside the lock so a long-running handler never
// blocks registration or a concurrent lookup.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MessageTypeID]Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[MessageTypeID]Handler),
	}
}

// register adds the mapping. A second registration for the same type leaves
// the first mapping in place and reports ErrAlreadyRegistered.
func (r *handlerRegistry) register(msgType MessageTypeID, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[msgType]; exists {
		return ErrAlreadyRegistered
	}
	r.handlers[msgType] = h
	return nil
}

// lookup returns the handler for msgType, if any, without holding the lock
// during the caller's subsequent invocation of it.
func (r *handlerRegistry) lookup(msgType MessageTypeID) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[msgType]
	return h, ok
}
