package playback

import (
	"slices"

	"github.com/leandrodaf/midiplayback/sdk/events"
)

// Handlers receives playback notifications. Nil fields are skipped. Handlers
// run after the playback lock is released, on the goroutine that caused the
// notification, so they may call control methods such as Stop or MoveToTime.
// They must not call Close from the tick goroutine.
type Handlers struct {
	Started               func()
	Stopped               func()
	Finished              func()
	RepeatStarted         func()
	EventPlayed           func(events.TimedEvent)
	NotesPlaybackStarted  func([]events.Note)
	NotesPlaybackFinished func([]events.Note)
	ErrorOccurred         func(error)
}

type subscription struct {
	id       uint64
	handlers Handlers
}

// notification is delivered to every subscription.
type notification func(h Handlers)

// Subscribe registers handlers and returns a function removing them.
func (p *Playback) Subscribe(h Handlers) (unsubscribe func()) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	p.nextSubscription++
	id := p.nextSubscription
	p.subscriptions = append(p.subscriptions, subscription{id: id, handlers: h})

	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		p.subscriptions = slices.DeleteFunc(p.subscriptions, func(s subscription) bool { return s.id == id })
	}
}

// emit queues a notification. The caller holds p.mu.
func (p *Playback) emit(n notification) {
	p.pending = append(p.pending, n)
}

func (p *Playback) emitEventPlayed(e events.TimedEvent) {
	p.emit(func(h Handlers) {
		if h.EventPlayed != nil {
			h.EventPlayed(e)
		}
	})
}

func (p *Playback) emitNotes(started, finished []events.Note) {
	if len(finished) > 0 {
		p.emit(func(h Handlers) {
			if h.NotesPlaybackFinished != nil {
				h.NotesPlaybackFinished(finished)
			}
		})
	}
	if len(started) > 0 {
		p.emit(func(h Handlers) {
			if h.NotesPlaybackStarted != nil {
				h.NotesPlaybackStarted(started)
			}
		})
	}
}

func (p *Playback) emitSignal(pick func(Handlers) func()) {
	p.emit(func(h Handlers) {
		if f := pick(h); f != nil {
			f()
		}
	})
}

func (p *Playback) emitError(err error) {
	p.emit(func(h Handlers) {
		if h.ErrorOccurred != nil {
			h.ErrorOccurred(err)
		}
	})
}

// unlockAndDeliver releases p.mu and then delivers the queued notifications.
func (p *Playback) unlockAndDeliver() {
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(pending) > 0 {
		p.deliver(pending)
	}
}

func (p *Playback) deliver(pending []notification) {
	p.handlersMu.Lock()
	subs := slices.Clone(p.subscriptions)
	p.handlersMu.Unlock()

	for _, n := range pending {
		for _, s := range subs {
			if err := invokeHandler(n, s.handlers); err != nil {
				p.reportHandlerFault(err, subs)
			}
		}
	}
}

func invokeHandler(n notification, h Handlers) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	n(h)
	return nil
}

// reportHandlerFault forwards a panicking handler to the error handlers.
// A panicking error handler is only logged.
func (p *Playback) reportHandlerFault(err error, subs []subscription) {
	fault := &DispatchError{Site: SiteHandler, Err: err}
	p.log.Error("Playback handler panicked", p.log.Field().Error("error", fault))
	for _, s := range subs {
		if s.handlers.ErrorOccurred == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("Playback error handler panicked", p.log.Field().Error("error", recovered(r)))
				}
			}()
			s.handlers.ErrorOccurred(fault)
		}()
	}
}
