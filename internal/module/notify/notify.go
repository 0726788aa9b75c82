// Package notify delivers module value changes to observers.
//
// Observers subscribe to every change or to the changes of one module.
// Delivery is synchronous by default; WithAsync moves it onto a single
// goroutine that preserves publication order.
package notify

import (
	"sync"
)

// ChangeType says what caused a value to change.
type ChangeType int

const (
	// ChangeSet is a local setter call.
	ChangeSet ChangeType = iota

	// ChangeLoad is the initial load from storage at registration.
	ChangeLoad

	// ChangeReload is a reread of storage after the module was edited on disk.
	ChangeReload

	// ChangeSync is a wholesale replacement received from the authority.
	ChangeSync
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeLoad:
		return "load"
	case ChangeReload:
		return "reload"
	case ChangeSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Change is one variable value change.
type Change struct {
	Module   string
	Variable string
	Type     ChangeType
	OldValue any
	NewValue any

	// Source identifies who caused the change (a peer id, or empty for local).
	Source string

	// More is set on every change of a batch but the last. Observers that
	// act once per module wait for a change without it.
	More bool
}

// Observer is called for each delivered change.
type Observer func(change Change)

// Subscription is an active observer registration.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier fans changes out to observers.
type Notifier struct {
	mu sync.RWMutex

	globalObservers map[uint64]Observer
	moduleObservers map[string]map[uint64]Observer
	nextID          uint64

	async  bool
	buffer chan Change
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers changes on a background goroutine with the given buffer.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Change, bufferSize)
		}
	}
}

// New creates a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		globalObservers: make(map[uint64]Observer),
		moduleObservers: make(map[string]map[uint64]Observer),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}
	return n
}

// Subscribe registers an observer for every change.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.globalObservers[id] = observer
	return &Subscription{id: id, notifier: n}
}

// SubscribeModule registers an observer for the changes of one module.
func (n *Notifier) SubscribeModule(moduleID string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	if n.moduleObservers[moduleID] == nil {
		n.moduleObservers[moduleID] = make(map[uint64]Observer)
	}
	n.moduleObservers[moduleID][id] = observer
	return &Subscription{id: id, notifier: n}
}

// Notify delivers a change. Changes published after Close are dropped.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return
	}

	if n.async {
		select {
		case n.buffer <- change:
		case <-n.done:
		}
		return
	}
	n.deliver(change)
}

// Close stops delivery. It is safe to call Close multiple times.
// Buffered async changes are delivered before Close returns.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.globalObservers, id)
	for moduleID, observers := range n.moduleObservers {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.moduleObservers, moduleID)
		}
	}
}

func (n *Notifier) deliver(change Change) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.globalObservers))
	for _, obs := range n.globalObservers {
		observers = append(observers, obs)
	}
	for _, obs := range n.moduleObservers[change.Module] {
		observers = append(observers, obs)
	}
	n.mu.RUnlock()

	// Observers run outside the lock so they may subscribe or publish.
	for _, obs := range observers {
		obs(change)
	}
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.buffer:
			n.deliver(change)
		case <-n.done:
			for {
				select {
				case change := <-n.buffer:
					n.deliver(change)
				default:
					return
				}
			}
		}
	}
}
