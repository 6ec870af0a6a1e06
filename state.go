package authsync

import (
	"sync"
)

// stateContainer is the single owned session state. Writers go through the
// client's synchronizer methods; readers get copies.
//
// epoch changes whenever the tracked identity changes or the session is
// cleared. A result computed under an older epoch is discarded.
type stateContainer struct {
	mu    sync.Mutex
	snap  Snapshot
	epoch uint64

	notifyMu sync.Mutex
	subs     map[uint64]func(Snapshot)
	nextSub  uint64
	lastGen  uint64
}

func newStateContainer() *stateContainer {
	return &stateContainer{subs: make(map[uint64]func(Snapshot))}
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Identity = s.Identity.clone()
	return out
}

func (s *stateContainer) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snap)
}

// track records ident as the current identity and returns the epoch a
// reconcile for it must present when applying.
func (s *stateContainer) track(ident *ExternalIdentity, loading bool) uint64 {
	s.mu.Lock()
	changed := false
	if s.snap.Identity == nil || s.snap.Identity.UID != ident.UID {
		s.epoch++
		s.snap.User = nil
		s.snap.State = StateAnonymous
		changed = true
	}
	s.snap.Identity = ident.clone()
	if loading && s.snap.User == nil && s.snap.State != StateAuthenticating {
		s.snap.State = StateAuthenticating
		changed = true
	}
	epoch := s.epoch
	var out Snapshot
	if changed {
		s.snap.Generation++
		out = copySnapshot(s.snap)
	}
	s.mu.Unlock()

	if changed {
		s.notify(out)
	}
	return epoch
}

// current reports whether epoch and uid still describe the tracked identity.
func (s *stateContainer) current(epoch uint64, uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && s.snap.Identity != nil && s.snap.Identity.UID == uid
}

// applyIf runs mutate when epoch and uid are still current. mutate returns
// false to leave the state untouched.
func (s *stateContainer) applyIf(epoch uint64, uid string, mutate func(*Snapshot) bool) bool {
	s.mu.Lock()
	if s.epoch != epoch || s.snap.Identity == nil || s.snap.Identity.UID != uid {
		s.mu.Unlock()
		return false
	}
	if !mutate(&s.snap) {
		s.mu.Unlock()
		return false
	}
	s.snap.Generation++
	out := copySnapshot(s.snap)
	s.mu.Unlock()

	s.notify(out)
	return true
}

// epochFor returns the current epoch when uid is the tracked identity.
func (s *stateContainer) epochFor(uid string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Identity == nil || s.snap.Identity.UID != uid {
		return 0, false
	}
	return s.epoch, true
}

// settle returns an identity that never got a local user from
// authenticating to anonymous.
func (s *stateContainer) settle(uid string) {
	s.mu.Lock()
	if s.snap.Identity == nil || s.snap.Identity.UID != uid || s.snap.User != nil || s.snap.State != StateAuthenticating {
		s.mu.Unlock()
		return
	}
	s.snap.State = StateAnonymous
	s.snap.Generation++
	out := copySnapshot(s.snap)
	s.mu.Unlock()

	s.notify(out)
}

// replace installs next unconditionally and starts a new epoch.
func (s *stateContainer) replace(next Snapshot) {
	s.mu.Lock()
	s.epoch++
	next.Generation = s.snap.Generation + 1
	s.snap = copySnapshot(next)
	out := copySnapshot(s.snap)
	s.mu.Unlock()

	s.notify(out)
}

// clear resets to anonymous. It reports whether anything changed.
func (s *stateContainer) clear() bool {
	s.mu.Lock()
	if s.snap.State == StateAnonymous && s.snap.User == nil && s.snap.Identity == nil {
		s.epoch++
		s.mu.Unlock()
		return false
	}
	s.epoch++
	s.snap = Snapshot{State: StateAnonymous, Generation: s.snap.Generation + 1}
	out := copySnapshot(s.snap)
	s.mu.Unlock()

	s.notify(out)
	return true
}

func (s *stateContainer) subscribe(fn func(Snapshot)) func() {
	s.notifyMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.subs, id)
			s.notifyMu.Unlock()
		})
	}
}

// notify delivers snapshots in generation order, skipping any that were
// overtaken. Callbacks must not subscribe, unsubscribe, or change the
// session.
func (s *stateContainer) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Generation <= s.lastGen {
		return
	}
	s.lastGen = snap.Generation
	for _, fn := range s.subs {
		fn(copySnapshot(snap))
	}
}
