package playback

import (
	"github.com/leandrodaf/midiplayback/internal/tracker"
	"github.com/leandrodaf/midiplayback/sdk/contracts"
	"github.com/leandrodaf/midiplayback/sdk/events"
	"gitlab.com/gomidi/midi/v2"
)

// onTick is the clock's tick handler. Ticks arriving while a batch is being
// dispatched are dropped; the next one catches up.
func (p *Playback) onTick() {
	if p.closed.Load() || p.dispatching.Load() {
		return
	}
	p.mu.Lock()
	defer p.unlockAndDeliver()

	if !p.clock.IsRunning() {
		return
	}
	p.dispatchLocked()
}

// dispatchLocked plays every event due at the clock position and handles the
// end of the sequence.
func (p *Playback) dispatchLocked() {
	p.dispatching.Store(true)
	defer p.dispatching.Store(false)

	pos := p.currentTickLocked()
	end := p.endLocked()

	limit := pos
	if p.hasEnd {
		limit = min(pos, end-1)
	}
	due := p.timeline.Due(limit)
	base := p.timeline.Position() - len(due)

	var started, finished []events.Note
	for i, e := range due {
		if p.closed.Load() {
			p.timeline.SetPosition(base + i)
			p.emitNotes(started, finished)
			return
		}
		if err := p.playEvent(base+i, e, &started, &finished); err != nil {
			// The faulted event counts as consumed.
			p.timeline.SetPosition(base + i + 1)
			p.emitNotes(started, finished)
			p.fail(err)
			return
		}
	}
	p.emitNotes(started, finished)

	if p.timeline.Done() || (p.hasEnd && pos >= end) {
		p.reachEndLocked()
	}
}

func (p *Playback) reachEndLocked() {
	if p.loop {
		if err := p.seekLocked(p.firstTickLocked()); err != nil {
			p.fail(err)
			return
		}
		p.log.Debug("Playback repeat started")
		p.emitSignal(func(h Handlers) func() { return h.RepeatStarted })
		return
	}

	policy := p.stopPolicy
	if policy == contracts.Split {
		policy = contracts.Interrupt
	}
	p.stopLocked(policy)
	p.split = nil
	p.finished = true
	p.log.Info("Playback finished")
	p.emitSignal(func(h Handlers) func() { return h.Finished })
	p.endRun(nil)
}

// playEvent plays the event at index idx of the sequence.
func (p *Playback) playEvent(idx int, e events.TimedEvent, started, finished *[]events.Note) error {
	if ni, ok := p.noteOn[idx]; ok {
		return p.playNoteOn(ni, e, started)
	}
	if ni, ok := p.noteOff[idx]; ok {
		return p.playNoteOff(ni, e, finished)
	}

	if d := events.Decode(e.Message); d.Kind == events.NoteOff && !p.sendNoteOffForInactive {
		if _, active := p.tracker.ActiveNote(events.NoteID{Channel: d.Channel, Key: d.Number}); !active {
			return nil
		}
	}

	msg := e.Message
	if p.eventCallback != nil {
		res, err := p.callEvent(e)
		if err != nil {
			return &DispatchError{Site: SiteEventCallback, Event: e, Err: err}
		}
		switch res.action {
		case skip:
			return nil
		case replace:
			msg = res.message
		}
	}

	if err := p.send(msg); err != nil {
		return &DispatchError{Site: SiteOutputDevice, Event: e, Err: err}
	}
	p.tracker.Record(msg)
	p.emitEventPlayed(events.At(e.Tick, msg))
	return nil
}

func (p *Playback) playNoteOn(ni int, e events.TimedEvent, started *[]events.Note) error {
	played, ok, err := p.decide(ni)
	if err != nil {
		return &DispatchError{Site: SiteNoteCallback, Event: e, Err: err}
	}
	if !ok {
		return nil
	}
	if _, active := p.tracker.ActiveNote(played.ID()); active && !p.sendNoteOnForActive {
		return nil
	}

	msg := played.OnMessage()
	if err := p.send(msg); err != nil {
		return &DispatchError{Site: SiteOutputDevice, Event: e, Err: err}
	}
	p.tracker.NoteStarted(played)
	*started = append(*started, played)
	p.emitEventPlayed(events.At(e.Tick, msg))
	return nil
}

func (p *Playback) playNoteOff(ni int, e events.TimedEvent, finished *[]events.Note) error {
	d, decided := p.decisions[ni]
	delete(p.decisions, ni)
	if decided && d.skipped {
		return nil
	}
	played := p.notes[ni]
	if decided {
		played = d.played
	}

	active, isActive := p.tracker.ActiveNote(played.ID())
	if !isActive && !p.sendNoteOffForInactive {
		return nil
	}

	msg := played.OffMessage()
	if err := p.send(msg); err != nil {
		return &DispatchError{Site: SiteOutputDevice, Event: e, Err: err}
	}
	if isActive {
		p.tracker.NoteFinished(played.ID())
		*finished = append(*finished, active)
	}
	p.emitEventPlayed(events.At(e.Tick, msg))
	return nil
}

// decide runs the note callback for note ni and remembers the decision for
// its note-off. It reports false when the note is skipped.
func (p *Playback) decide(ni int) (events.Note, bool, error) {
	note := p.notes[ni]
	played := note
	if p.noteCallback != nil {
		res, err := p.callNote(note)
		if err != nil {
			return events.Note{}, false, err
		}
		switch res.action {
		case skip:
			p.decisions[ni] = decision{skipped: true}
			return events.Note{}, false, nil
		case replace:
			played = res.note
			played.Start, played.End = note.Start, note.End
			played.OnIndex, played.OffIndex = note.OnIndex, note.OffIndex
		}
	}
	p.decisions[ni] = decision{played: played}
	return played, true, nil
}

func (p *Playback) callEvent(e events.TimedEvent) (res EventResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return p.eventCallback(e, e.Tick, p.tempoMap.ToMetric(e.Tick)), nil
}

func (p *Playback) callNote(n events.Note) (res NoteResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return p.noteCallback(n, n.Start, p.tempoMap.ToMetric(n.Start)), nil
}

// send writes msg to the output device. Without a device nothing is sent.
func (p *Playback) send(msg midi.Message) (err error) {
	if p.output == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return p.output.SendEvent(msg)
}

// resync sends the corrections bringing the device to the sustained state at
// tick for the given kinds.
func (p *Playback) resync(tick int64, kinds tracker.Kinds, started, finished *[]events.Note) error {
	p.pruneDecisions()
	target := p.tracker.RebuildUpTo(tick, kinds)
	p.tracker.KeepChangedAt(target, tick)
	target.Notes = p.targetNotes(target.Notes, kinds)

	for _, c := range tracker.Diff(p.tracker.Sent(), target, kinds) {
		if err := p.applyCorrection(tick, c, started, finished); err != nil {
			return err
		}
	}
	return nil
}

// targetNotes returns the notes that should sound after a resync: the notes
// held across the position as they were decided to be played, and every
// sounding note that is still logically on.
func (p *Playback) targetNotes(held map[events.NoteID]events.Note, kinds tracker.Kinds) map[events.NoteID]events.Note {
	target := make(map[events.NoteID]events.Note, len(held))
	if kinds.Has(tracker.Notes) {
		for _, n := range held {
			ni, ok := p.noteOn[n.OnIndex]
			if !ok {
				target[n.ID()] = n
				continue
			}
			switch d, decided := p.decisions[ni]; {
			case !decided:
				target[n.ID()] = n
			case !d.skipped:
				target[d.played.ID()] = d.played
			}
		}
	}
	for _, n := range p.tracker.ActiveNotes() {
		if p.isLive(n) {
			target[n.ID()] = n
		}
	}
	return target
}

func (p *Playback) applyCorrection(tick int64, c tracker.Correction, started, finished *[]events.Note) error {
	switch {
	case c.Note != nil && c.Kind == events.NoteOn:
		played := *c.Note
		if ni, ok := p.noteOn[c.Note.OnIndex]; ok {
			if d, decided := p.decisions[ni]; decided {
				played = d.played
			} else {
				note, keep, err := p.decide(ni)
				if err != nil {
					return &DispatchError{Site: SiteNoteCallback, Event: events.At(tick, c.Message), Err: err}
				}
				if !keep {
					return nil
				}
				played = note
			}
		}
		if err := p.send(played.OnMessage()); err != nil {
			return &DispatchError{Site: SiteOutputDevice, Event: events.At(tick, played.OnMessage()), Err: err}
		}
		p.tracker.NoteStarted(played)
		*started = append(*started, played)

	case c.Note != nil:
		if err := p.send(c.Message); err != nil {
			return &DispatchError{Site: SiteOutputDevice, Event: events.At(tick, c.Message), Err: err}
		}
		p.tracker.NoteFinished(c.Note.ID())
		*finished = append(*finished, *c.Note)

	default:
		if err := p.send(c.Message); err != nil {
			return &DispatchError{Site: SiteOutputDevice, Event: events.At(tick, c.Message), Err: err}
		}
		p.tracker.Commit(c)
	}
	return nil
}

// pruneDecisions forgets the notes that are no longer logically sounding at
// the cursor: their note-on is ahead or their note-off is behind.
func (p *Playback) pruneDecisions() {
	pos := p.timeline.Position()
	for ni := range p.decisions {
		n := p.notes[ni]
		if n.OnIndex >= pos || (n.OffIndex >= 0 && n.OffIndex < pos) {
			delete(p.decisions, ni)
		}
	}
}

// isLive reports whether a sounding note is still logically on.
func (p *Playback) isLive(n events.Note) bool {
	ni, ok := p.noteOn[n.OnIndex]
	if !ok {
		return false
	}
	d, decided := p.decisions[ni]
	return decided && !d.skipped
}
