package bot

import (
	"sync"

	"martingale_bot/logger"
	"martingale_bot/models"
)

// Reconciler is the boundary every fill passes through. It validates,
// attributes and deduplicates fills from the push stream, order acks and
// polling, and queues push-stream fills for the single consumer.
type Reconciler struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	lookup func(orderID int64) (models.Order, bool)

	inbox chan models.Fill
	done  chan struct{}
	once  sync.Once

	dropped int
}

func NewReconciler(inboxSize int, lookup func(orderID int64) (models.Order, bool)) *Reconciler {
	if inboxSize < 1 {
		inboxSize = 1
	}
	return &Reconciler{
		seen:   make(map[string]struct{}),
		lookup: lookup,
		inbox:  make(chan models.Fill, inboxSize),
		done:   make(chan struct{}),
	}
}

// Accept returns the attributed fill and true if it is valid and unseen.
func (r *Reconciler) Accept(f models.Fill) (models.Fill, bool) {
	if err := f.Validate(); err != nil {
		logger.Warnf("Dropping malformed fill for order %d: %v", f.OrderID, err)
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return f, false
	}

	f = r.attribute(f)

	r.mu.Lock()
	defer r.mu.Unlock()
	key := f.Key()
	if _, dup := r.seen[key]; dup {
		logger.Debugf("Duplicate fill %s ignored", key)
		return f, false
	}
	r.seen[key] = struct{}{}
	return f, true
}

// attribute fills in tag and layer from the client order id or the order
// registry when the source did not carry them.
func (r *Reconciler) attribute(f models.Fill) models.Fill {
	if f.Tag != "" && f.Tag != models.TagExternal {
		return f
	}
	if f.ClientOrderID != "" {
		if tag, layer := models.ParseClientOrderID(f.ClientOrderID); tag != models.TagExternal {
			f.Tag, f.Layer = tag, layer
			return f
		}
	}
	if r.lookup != nil {
		if o, ok := r.lookup(f.OrderID); ok && o.Tag != "" {
			f.Tag, f.Layer = o.Tag, o.Layer
			if f.ClientOrderID == "" {
				f.ClientOrderID = o.ClientOrderID
			}
			return f
		}
	}
	if f.Tag == "" {
		f.Tag, f.Layer = models.TagExternal, -1
	}
	return f
}

// Submit is the push-stream entry point. It may be called from any goroutine
// and blocks while the inbox is full, until Close.
func (r *Reconciler) Submit(f models.Fill) {
	f, ok := r.Accept(f)
	if !ok {
		return
	}
	select {
	case r.inbox <- f:
	case <-r.done:
		logger.Warnf("Fill %s arrived after shutdown", f.Key())
	}
}

// Inbox is consumed only by the bot's run goroutine.
func (r *Reconciler) Inbox() <-chan models.Fill {
	return r.inbox
}

// Drain returns every fill currently queued without blocking.
func (r *Reconciler) Drain() []models.Fill {
	var out []models.Fill
	for {
		select {
		case f := <-r.inbox:
			out = append(out, f)
		default:
			return out
		}
	}
}

// Close releases blocked submitters.
func (r *Reconciler) Close() {
	r.once.Do(func() { close(r.done) })
}

// Dropped counts fills rejected by validation.
func (r *Reconciler) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
