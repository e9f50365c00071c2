package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/clinova/appointment-engine/internal/redis"
)

// fakeStore keeps appointments and the audit trail in memory with the same
// conditional-commit semantics as the Postgres store.
type fakeStore struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]*Appointment
	audit     []AuditEntry
	commitErr error
}

func newFakeStore(appts ...*Appointment) *fakeStore {
	s := &fakeStore{appts: make(map[uuid.UUID]*Appointment)}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

func (s *fakeStore) GetCore(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.OrganizationID != orgID {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) CommitTransition(ctx context.Context, entry *AuditEntry) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return uuid.Nil, s.commitErr
	}

	a, ok := s.appts[entry.AppointmentID]
	if !ok || a.OrganizationID != entry.OrganizationID {
		return uuid.Nil, ErrAppointmentNotFound
	}
	if a.Status != entry.PreviousStatus {
		return uuid.Nil, ErrStatusChanged
	}

	a.Status = entry.NewStatus
	a.UpdatedAt = time.Now()

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	s.audit = append(s.audit, *entry)
	return entry.ID, nil
}

func (s *fakeStore) History(ctx context.Context, orgID, appointmentID uuid.UUID) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.AppointmentID == appointmentID && e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) FindOverdueConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.appts {
		if a.Status == StatusConfirmed && a.ScheduledAt.Before(cutoff) && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

// inlineLocker runs the critical section without any locking; the fake
// store's conditional commit carries the concurrency semantics.
type inlineLocker struct{}

func (inlineLocker) WithAppointmentLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker always reports the lock as held elsewhere.
type busyLocker struct{}

func (busyLocker) WithAppointmentLock(ctx context.Context, _ uuid.UUID, _ func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fakeNotifier struct {
	mu      sync.Mutex
	changes []StatusChange
	tags    map[AppointmentStatus][]string
}

func (n *fakeNotifier) Dispatch(ctx context.Context, change StatusChange) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	if tags, ok := n.tags[change.New]; ok {
		return tags
	}
	return []string{"skipped:" + string(change.New)}
}

func testAppointment(status AppointmentStatus, scheduledAt time.Time) *Appointment {
	return &Appointment{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		PatientID:      uuid.New(),
		DoctorID:       uuid.New(),
		Status:         status,
		ScheduledAt:    scheduledAt,
	}
}

func newTestEngine(store Store, notifier Notifier) *Engine {
	return NewEngine(store, inlineLocker{}, notifier, zerolog.Nop(), EngineConfig{})
}

func requestFor(appt *Appointment, target AppointmentStatus, role Role) TransitionRequest {
	return TransitionRequest{
		AppointmentID:  appt.ID,
		OrganizationID: appt.OrganizationID,
		TargetStatus:   target,
		CallerID:       uuid.New(),
		CallerRole:     role,
	}
}

func TestStaffConfirmsPendingAppointment(t *testing.T) {
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	store := newFakeStore(appt)
	notifier := &fakeNotifier{tags: map[AppointmentStatus][]string{
		StatusConfirmed: {"email:appointment_confirmed"},
	}}
	engine := newTestEngine(store, notifier)

	result, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusConfirmed, RoleStaff))
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}

	if result.PreviousStatus != StatusPending || result.NewStatus != StatusConfirmed {
		t.Errorf("result statuses = %s -> %s", result.PreviousStatus, result.NewStatus)
	}
	if result.AuditEntryID == uuid.Nil {
		t.Error("missing audit entry id")
	}
	if len(result.Notifications) != 1 || result.Notifications[0] != "email:appointment_confirmed" {
		t.Errorf("notifications = %v", result.Notifications)
	}

	// Atomic commit: exactly one new audit entry whose new status matches
	// the persisted status.
	history, err := store.History(context.Background(), appt.OrganizationID, appt.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(history))
	}
	persisted, _ := store.GetCore(context.Background(), appt.OrganizationID, appt.ID)
	if history[0].NewStatus != persisted.Status {
		t.Errorf("audit head %s != persisted %s", history[0].NewStatus, persisted.Status)
	}
	if history[0].PreviousStatus != StatusPending {
		t.Errorf("audit previous = %s, want pending", history[0].PreviousStatus)
	}
}

func TestTerminalStatusesAreImmutable(t *testing.T) {
	terminals := []AppointmentStatus{
		StatusCompleted,
		StatusCancelledByPatient,
		StatusCancelledByClinic,
		StatusNoShow,
	}
	roles := []Role{RolePatient, RoleStaff, RoleDoctor, RoleAdmin, RoleSuperadmin}

	for _, terminal := range terminals {
		for _, role := range roles {
			for _, target := range AllStatuses() {
				if target == terminal {
					continue
				}
				appt := testAppointment(terminal, time.Now().Add(-time.Hour))
				engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

				_, err := engine.RequestTransition(context.Background(), requestFor(appt, target, role))
				if !errors.Is(err, ErrForbidden) {
					t.Fatalf("%s -> %s as %s: got %v, want forbidden", terminal, target, role, err)
				}
				if !strings.Contains(err.Error(), "final state") {
					t.Fatalf("%s -> %s: wrong reason %q", terminal, target, err)
				}
			}
		}
	}
}

func TestRoleContainmentBeatsGraph(t *testing.T) {
	// pending -> confirmed is a legal graph edge, but patients may never set
	// confirmed.
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusConfirmed, RolePatient))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("got %v, want forbidden", err)
	}
	if !strings.Contains(err.Error(), "role") {
		t.Errorf("reason should identify the role restriction, got %q", err)
	}

	// Nothing was persisted.
	history, _ := engine.History(context.Background(), appt.OrganizationID, appt.ID)
	if len(history) != 0 {
		t.Errorf("rejected transition produced %d audit entries", len(history))
	}
}

func TestFutureCompletionIsRuleViolation(t *testing.T) {
	appt := testAppointment(StatusConfirmed, time.Now().Add(24*time.Hour))
	engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusCompleted, RoleDoctor))
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("got %v, want rule violation", err)
	}
	if !strings.Contains(err.Error(), "future appointment") {
		t.Errorf("wrong reason %q", err)
	}
}

func TestPatientCancelInsideWindow(t *testing.T) {
	appt := testAppointment(StatusConfirmed, time.Now().Add(90*time.Minute))
	engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusCancelledByPatient, RolePatient))
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("got %v, want rule violation", err)
	}
	if !strings.Contains(err.Error(), "cannot cancel within 2 hours") {
		t.Errorf("wrong reason %q", err)
	}
}

func TestDoctorCompletesStartedVisit(t *testing.T) {
	appt := testAppointment(StatusInProgress, time.Now().Add(-24*time.Hour))
	store := newFakeStore(appt)
	notifier := &fakeNotifier{tags: map[AppointmentStatus][]string{
		StatusCompleted: {"email:appointment_completed"},
	}}
	engine := newTestEngine(store, notifier)

	result, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusCompleted, RoleDoctor))
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if result.NewStatus != StatusCompleted {
		t.Errorf("new status = %s", result.NewStatus)
	}
	if len(result.Notifications) != 1 || !strings.HasPrefix(result.Notifications[0], "email:") {
		t.Errorf("notifications = %v, want an email tag", result.Notifications)
	}
	history, _ := store.History(context.Background(), appt.OrganizationID, appt.ID)
	if len(history) != 1 {
		t.Errorf("history has %d entries, want 1", len(history))
	}
}

func TestNotFoundAppointment(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeNotifier{})

	_, err := engine.RequestTransition(context.Background(), TransitionRequest{
		AppointmentID:  uuid.New(),
		OrganizationID: uuid.New(),
		TargetStatus:   StatusConfirmed,
		CallerID:       uuid.New(),
		CallerRole:     RoleStaff,
	})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

	req := requestFor(appt, StatusConfirmed, RoleStaff)
	req.OrganizationID = uuid.New() // different tenant
	_, err := engine.RequestTransition(context.Background(), req)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("cross-tenant access: got %v, want not found", err)
	}
}

func TestStorageFailureIsNotValidationFailure(t *testing.T) {
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	store := newFakeStore(appt)
	store.commitErr = errors.New("connection reset")
	engine := newTestEngine(store, &fakeNotifier{})

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusConfirmed, RoleStaff))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{ErrForbidden, ErrRuleViolation, ErrAppointmentNotFound, ErrTransitionInFlight} {
		if errors.Is(err, sentinel) {
			t.Errorf("storage failure surfaced as %v", sentinel)
		}
	}
}

func TestLockContentionIsRetryableConflict(t *testing.T) {
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	store := newFakeStore(appt)
	engine := NewEngine(store, busyLocker{}, &fakeNotifier{}, zerolog.Nop(), EngineConfig{})

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusConfirmed, RoleStaff))
	if !errors.Is(err, ErrTransitionInFlight) {
		t.Fatalf("got %v, want transition in flight", err)
	}
	if persisted, _ := store.GetCore(context.Background(), appt.OrganizationID, appt.ID); persisted.Status != StatusPending {
		t.Errorf("status mutated under contention: %s", persisted.Status)
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	for i := 0; i < 50; i++ {
		appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
		store := newFakeStore(appt)
		engine := newTestEngine(store, &fakeNotifier{})

		var wg sync.WaitGroup
		results := make([]error, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, results[j] = engine.RequestTransition(context.Background(), requestFor(appt, StatusConfirmed, RoleStaff))
			}(j)
		}
		wg.Wait()

		var successes int
		for _, err := range results {
			if err == nil {
				successes++
			}
		}
		if successes != 1 {
			t.Fatalf("run %d: %d successes, want exactly 1 (errs: %v)", i, successes, results)
		}

		// Never two audit entries with the same previous status.
		history, _ := store.History(context.Background(), appt.OrganizationID, appt.ID)
		seen := make(map[AppointmentStatus]bool)
		for _, e := range history {
			if seen[e.PreviousStatus] {
				t.Fatalf("run %d: duplicate previous status %s in audit trail", i, e.PreviousStatus)
			}
			seen[e.PreviousStatus] = true
		}
	}
}

func TestCommitRaceRevalidatesAgainstPersistedStatus(t *testing.T) {
	// The engine validated against pending, but by commit time another
	// caller moved the appointment to confirmed. Requesting confirmed again
	// must fail re-validation rather than double-commit.
	appt := testAppointment(StatusPending, time.Now().Add(48*time.Hour))
	store := newFakeStore(appt)
	engine := newTestEngine(store, &fakeNotifier{})

	stale := *appt
	store.appts[appt.ID].Status = StatusConfirmed

	_, err := engine.commit(context.Background(), &stale, requestFor(appt, StatusConfirmed, RoleStaff))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("got %v, want forbidden after re-validation", err)
	}

	history, _ := store.History(context.Background(), appt.OrganizationID, appt.ID)
	if len(history) != 0 {
		t.Errorf("race produced %d audit entries", len(history))
	}
}

func TestGetAvailableTransitions(t *testing.T) {
	appt := testAppointment(StatusConfirmed, time.Now().Add(48*time.Hour))
	engine := newTestEngine(newFakeStore(appt), &fakeNotifier{})

	got, err := engine.GetAvailableTransitions(context.Background(), appt.OrganizationID, appt.ID, RolePatient)
	if err != nil {
		t.Fatalf("GetAvailableTransitions: %v", err)
	}
	if len(got) != 1 || got[0] != StatusCancelledByPatient {
		t.Errorf("patient options = %v, want [cancelled_by_patient]", got)
	}

	// Read-only: nothing changed, nothing audited.
	persisted, _ := engine.store.GetCore(context.Background(), appt.OrganizationID, appt.ID)
	if persisted.Status != StatusConfirmed {
		t.Errorf("status mutated by read: %s", persisted.Status)
	}
}

func TestNotificationChangeCarriesCommittedStatuses(t *testing.T) {
	appt := testAppointment(StatusConfirmed, time.Now().Add(-2*time.Hour))
	notifier := &fakeNotifier{}
	engine := newTestEngine(newFakeStore(appt), notifier)

	_, err := engine.RequestTransition(context.Background(), requestFor(appt, StatusInProgress, RoleDoctor))
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}

	if len(notifier.changes) != 1 {
		t.Fatalf("notifier saw %d changes, want 1", len(notifier.changes))
	}
	change := notifier.changes[0]
	if change.Previous != StatusConfirmed || change.New != StatusInProgress {
		t.Errorf("change = %s -> %s", change.Previous, change.New)
	}
	if change.PatientID != appt.PatientID || change.DoctorID != appt.DoctorID {
		t.Error("change does not carry the appointment's parties")
	}
}
