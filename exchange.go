// Gift exchange name assignment
//
// Each participant opens the page, says who they are, then says who they are
// buying for. Once everyone but one person has done so, the last person is not
// asked: their recipient is whoever nobody has picked yet.
//
// Steps:
//   welcome -> select_giver -> select_recipient -> complete
//   welcome -> select_giver -> reveal -> complete   (last participant)
//   welcome -> select_giver -> complete             (giver already has a record)
//   any step -> welcome                             (reset)

package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// UnknownRecipient is shown when elimination cannot name exactly one person.
const UnknownRecipient = "Unknown"

type Step string

const (
	StepWelcome         Step = "welcome"
	StepSelectGiver     Step = "select_giver"
	StepSelectRecipient Step = "select_recipient"
	StepReveal          Step = "reveal"
	StepComplete        Step = "complete"
)

var (
	ErrWrongStep          = errors.New("action not available at this step")
	ErrUnknownParticipant = errors.New("not a participant in this exchange")
	ErrSelfAssignment     = errors.New("a participant cannot pick themselves")
	ErrNoRecipient        = errors.New("no recipient chosen")
	ErrBusy               = errors.New("a save is already in progress")
)

// Assignments is what a Session needs from the assignment store.
type Assignments interface {
	CountCompleted(ctx context.Context) int
	HasCompleted(ctx context.Context, giver string) bool
	Persist(ctx context.Context, a Assignment) error
	ListAll(ctx context.Context) []StoredAssignment
	Decrypt(rec StoredAssignment) (Assignment, bool)
}

// Snapshot is everything a page needs to render the current step.
type Snapshot struct {
	Step             Step     `json:"step"`
	Completed        int      `json:"completed"`
	Total            int      `json:"total"`
	Participants     []string `json:"participants"`
	Giver            string   `json:"giver,omitempty"`
	Recipient        string   `json:"recipient,omitempty"`
	Inconclusive     bool     `json:"inconclusive"`
	Candidates       []string `json:"candidates,omitempty"`
	Loading          bool     `json:"loading"`
	AlreadyCompleted bool     `json:"already_completed"`
}

// Session is the state of one person's visit. It is discarded when they
// leave; only saved assignments outlive it.
type Session struct {
	store  Assignments
	roster *Roster

	mu               sync.Mutex
	step             Step
	giver            string
	recipient        string
	alreadyCompleted bool
	loading          bool

	// completed is read by the hub without taking mu.
	completed atomic.Int64

	onChange  func(Snapshot)
	onPersist func(completed int)
}

func NewSession(store Assignments, roster *Roster) *Session {
	return &Session{
		store:  store,
		roster: roster,
		step:   StepWelcome,
	}
}

// OnChange registers fn to receive intermediate snapshots, such as the
// loading state while a save is running.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnPersist registers fn to be called with the new completed count after
// every successful save.
func (s *Session) OnPersist(fn func(completed int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPersist = fn
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Step:             s.step,
		Completed:        int(s.completed.Load()),
		Total:            s.roster.Len(),
		Participants:     s.roster.Names(),
		Giver:            s.giver,
		Recipient:        s.recipient,
		Inconclusive:     s.recipient == UnknownRecipient,
		Loading:          s.loading,
		AlreadyCompleted: s.alreadyCompleted,
	}
	if s.step == StepSelectRecipient {
		snap.Candidates = s.roster.Others(s.giver)
	}
	return snap
}

// Refresh reloads the completed count from the store.
func (s *Session) Refresh(ctx context.Context) {
	s.completed.Store(int64(s.store.CountCompleted(ctx)))
}

// noteProgress records a count learned from another session's save. It never
// blocks, so a session busy with the store cannot hold up the hub.
func (s *Session) noteProgress(n int) {
	for {
		cur := s.completed.Load()
		if int64(n) <= cur || s.completed.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepWelcome {
		return ErrWrongStep
	}

	s.completed.Store(int64(s.store.CountCompleted(ctx)))
	s.step = StepSelectGiver

	return nil
}

// SelectGiver records who is using the page and picks the next step: complete
// if they already have a record, reveal if everyone else is done, otherwise
// recipient selection.
func (s *Session) SelectGiver(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepSelectGiver {
		return ErrWrongStep
	}

	giver, ok := s.roster.Canonical(name)
	if !ok {
		return ErrUnknownParticipant
	}

	s.giver = giver
	s.recipient = ""
	s.alreadyCompleted = false

	if s.store.HasCompleted(ctx, giver) {
		s.alreadyCompleted = true
		s.step = StepComplete
		return nil
	}

	completed := s.store.CountCompleted(ctx)
	s.completed.Store(int64(completed))

	if completed == s.roster.Len()-1 {
		s.recipient = s.findLastRecipient(ctx, giver)
		s.step = StepReveal
		return nil
	}

	s.step = StepSelectRecipient

	return nil
}

// findLastRecipient returns the one participant, other than giver, that no
// stored record names as a recipient. Records that cannot be read, or that do
// not belong to a participant, are skipped; if that leaves anything other than
// exactly one candidate the result is UnknownRecipient.
func (s *Session) findLastRecipient(ctx context.Context, giver string) string {
	assigned := make(map[string]bool, s.roster.Len())

	for _, rec := range s.store.ListAll(ctx) {
		if _, ok := s.roster.Canonical(rec.Giver); !ok {
			continue
		}

		a, ok := s.store.Decrypt(rec)
		if !ok {
			continue
		}

		recipient, ok := s.roster.Canonical(a.Recipient)
		if !ok {
			continue
		}
		assigned[recipient] = true
	}

	var remaining []string
	for _, name := range s.roster.Others(giver) {
		if !assigned[name] {
			remaining = append(remaining, name)
		}
	}

	if len(remaining) != 1 {
		return UnknownRecipient
	}

	return remaining[0]
}

func (s *Session) SelectRecipient(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return ErrBusy
	}
	if s.step != StepSelectRecipient {
		return ErrWrongStep
	}

	recipient, ok := s.roster.Canonical(name)
	if !ok {
		return ErrUnknownParticipant
	}
	if recipient == s.giver {
		return ErrSelfAssignment
	}

	s.recipient = recipient

	return nil
}

func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return ErrBusy
	}
	if s.step != StepSelectRecipient {
		return ErrWrongStep
	}
	if s.recipient == "" {
		return ErrNoRecipient
	}

	return s.persistLocked(ctx)
}

// Confirm saves the recipient found by elimination, UnknownRecipient included,
// so the exchange still completes when the records do not add up.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return ErrBusy
	}
	if s.step != StepReveal {
		return ErrWrongStep
	}
	if s.recipient == "" {
		return ErrNoRecipient
	}

	return s.persistLocked(ctx)
}

// persistLocked saves the current selection. s.mu is released while the
// store is being called; the loading flag keeps other actions out meanwhile.
func (s *Session) persistLocked(ctx context.Context) error {
	a := Assignment{Giver: s.giver, Recipient: s.recipient}

	s.loading = true
	snap := s.snapshotLocked()
	onChange, onPersist := s.onChange, s.onPersist
	s.mu.Unlock()

	if onChange != nil {
		onChange(snap)
	}

	var err error
	if s.store.HasCompleted(ctx, a.Giver) {
		err = ErrAlreadyCompleted
	} else {
		err = s.store.Persist(ctx, a)
	}

	completed := 0
	if err == nil {
		completed = s.store.CountCompleted(ctx)
	}

	s.mu.Lock()
	s.loading = false

	if err != nil {
		return err
	}

	s.completed.Store(int64(completed))
	s.step = StepComplete

	if onPersist != nil {
		s.mu.Unlock()
		onPersist(completed)
		s.mu.Lock()
	}

	return nil
}

// Reset returns to the welcome step and forgets the selection. Saved
// assignments are untouched.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return ErrBusy
	}

	s.step = StepWelcome
	s.giver = ""
	s.recipient = ""
	s.alreadyCompleted = false

	return nil
}
