// Package memstore is an in-process store.Store. Transactions are fully
// serialized and commit by swapping in a modified copy of the state, which gives
// the same all-or-nothing behavior as the Postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

type Store struct {
	mu    sync.Mutex
	state *state

	dirMu    sync.RWMutex
	doctors  map[uuid.UUID]struct{}
	patients map[uuid.UUID]struct{}

	// failures is the number of upcoming transactions that fail with ErrTransient.
	failures int
	attempts int
}

func New() *Store {
	return &Store{
		state:    newState(),
		doctors:  make(map[uuid.UUID]struct{}),
		patients: make(map[uuid.UUID]struct{}),
	}
}

func (s *Store) AddDoctor(id uuid.UUID) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.doctors[id] = struct{}{}
}

func (s *Store) AddPatient(id uuid.UUID) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.patients[id] = struct{}{}
}

func (s *Store) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	_, ok := s.doctors[id]
	return ok, nil
}

func (s *Store) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	_, ok := s.patients[id]
	return ok, nil
}

// FailNext makes the next n transactions abort with store.ErrTransient before fn runs.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Attempts counts RunInTx calls, including injected failures.
func (s *Store) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Events returns a copy of the committed appointment events.
func (s *Store) Events() []domain.AppointmentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AppointmentEvent(nil), s.state.events...)
}

// Mutate applies fn to the committed state outside any scheduling operation.
// Tests use it to plant inconsistent rows.
func (s *Store) Mutate(fn func(tx store.SchedulingTx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&memTx{st: s.state})
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failures > 0 {
		s.failures--
		return store.ErrTransient
	}

	working := s.state.clone()
	if err := fn(ctx, &memTx{st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

type state struct {
	availabilities map[uuid.UUID]domain.Availability
	blocks         map[uuid.UUID]domain.Block
	appointments   map[uuid.UUID]domain.Appointment
	events         []domain.AppointmentEvent
	nextEventID    int64
}

func newState() *state {
	return &state{
		availabilities: make(map[uuid.UUID]domain.Availability),
		blocks:         make(map[uuid.UUID]domain.Block),
		appointments:   make(map[uuid.UUID]domain.Appointment),
		nextEventID:    1,
	}
}

func (s *state) clone() *state {
	out := &state{
		availabilities: make(map[uuid.UUID]domain.Availability, len(s.availabilities)),
		blocks:         make(map[uuid.UUID]domain.Block, len(s.blocks)),
		appointments:   make(map[uuid.UUID]domain.Appointment, len(s.appointments)),
		events:         append([]domain.AppointmentEvent(nil), s.events...),
		nextEventID:    s.nextEventID,
	}
	for k, v := range s.availabilities {
		out.availabilities[k] = v
	}
	for k, v := range s.blocks {
		out.blocks[k] = v
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	return out
}

type memTx struct {
	st *state
}

func now() time.Time {
	return time.Now().UTC()
}

func newID() (uuid.UUID, error) {
	return uuid.NewV7()
}

func (t *memTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return nil
}

func (t *memTx) CreateAvailability(ctx context.Context, av domain.Availability) (domain.Availability, error) {
	if av.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Availability{}, err
		}
		av.ID = id
	}
	if _, ok := t.st.availabilities[av.ID]; ok {
		return domain.Availability{}, store.ErrConflict
	}
	ts := now()
	av.StartTime = av.StartTime.UTC()
	av.EndTime = av.EndTime.UTC()
	av.CreatedAt, av.UpdatedAt = ts, ts

	blocks := av.Blocks
	av.Blocks = nil
	t.st.availabilities[av.ID] = av

	for i := range blocks {
		blocks[i].AvailabilityID = av.ID
		blocks[i].DoctorID = av.DoctorID
	}
	if err := t.InsertBlocks(ctx, blocks); err != nil {
		return domain.Availability{}, err
	}
	return t.GetAvailability(ctx, av.ID)
}

func (t *memTx) withBlocks(av domain.Availability) domain.Availability {
	av.Blocks = nil
	for _, b := range t.st.blocks {
		if b.AvailabilityID == av.ID {
			av.Blocks = append(av.Blocks, b)
		}
	}
	av.SortBlocks()
	return av
}

func (t *memTx) GetAvailability(ctx context.Context, id uuid.UUID) (domain.Availability, error) {
	av, ok := t.st.availabilities[id]
	if !ok {
		return domain.Availability{}, store.ErrNotFound
	}
	return t.withBlocks(av), nil
}

func (t *memTx) ListAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]domain.Availability, error) {
	var out []domain.Availability
	for _, av := range t.st.availabilities {
		if av.DoctorID == doctorID {
			out = append(out, t.withBlocks(av))
		}
	}
	sortAvailabilities(out)
	return out, nil
}

func (t *memTx) ListOverlappingAvailabilities(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Availability, error) {
	var out []domain.Availability
	for _, av := range t.st.availabilities {
		if av.DoctorID == doctorID && av.Window().Overlaps(window) {
			out = append(out, av)
		}
	}
	sortAvailabilities(out)
	return out, nil
}

func (t *memTx) UpdateAvailabilityWindow(ctx context.Context, id uuid.UUID, window domain.TimeWindow) error {
	av, ok := t.st.availabilities[id]
	if !ok {
		return store.ErrNotFound
	}
	av.StartTime = window.Start.UTC()
	av.EndTime = window.End.UTC()
	av.UpdatedAt = now()
	t.st.availabilities[id] = av
	return nil
}

func (t *memTx) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.st.availabilities[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.availabilities, id)

	var owned []uuid.UUID
	for bid, b := range t.st.blocks {
		if b.AvailabilityID == id {
			owned = append(owned, bid)
		}
	}
	return t.DeleteBlocks(ctx, owned)
}

func (t *memTx) GetBlock(ctx context.Context, id uuid.UUID) (domain.Block, error) {
	b, ok := t.st.blocks[id]
	if !ok {
		return domain.Block{}, store.ErrNotFound
	}
	return b, nil
}

func (t *memTx) ListBlocks(ctx context.Context, doctorID uuid.UUID) ([]domain.Block, error) {
	var out []domain.Block
	for _, b := range t.st.blocks {
		if b.DoctorID == doctorID {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (t *memTx) ListAvailableBlocks(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Block, error) {
	var out []domain.Block
	for _, b := range t.st.blocks {
		if b.DoctorID == doctorID && !b.IsBooked && b.Window().Overlaps(window) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (t *memTx) InsertBlocks(ctx context.Context, blocks []domain.Block) error {
	ts := now()
	for _, b := range blocks {
		if _, ok := t.st.availabilities[b.AvailabilityID]; !ok {
			return store.ErrNotFound
		}
		if b.ID == uuid.Nil {
			id, err := newID()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if _, ok := t.st.blocks[b.ID]; ok {
			return store.ErrConflict
		}
		b.StartTime = b.StartTime.UTC()
		b.EndTime = b.EndTime.UTC()
		b.CreatedAt, b.UpdatedAt = ts, ts
		t.st.blocks[b.ID] = b
	}
	return nil
}

func (t *memTx) DeleteBlocks(ctx context.Context, ids []uuid.UUID) error {
	gone := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		delete(t.st.blocks, id)
		gone[id] = struct{}{}
	}
	for id, a := range t.st.appointments {
		if !a.BlockID.Valid {
			continue
		}
		if _, ok := gone[a.BlockID.UUID]; ok {
			a.BlockID = uuid.NullUUID{}
			t.st.appointments[id] = a
		}
	}
	return nil
}

func (t *memTx) MarkBlockBooked(ctx context.Context, id uuid.UUID) error {
	b, ok := t.st.blocks[id]
	if !ok || b.IsBooked {
		return store.ErrConflict
	}
	b.IsBooked = true
	b.UpdatedAt = now()
	t.st.blocks[id] = b
	return nil
}

func (t *memTx) ReleaseBlock(ctx context.Context, id uuid.UUID) error {
	return t.SetBlockBooked(ctx, id, false)
}

func (t *memTx) SetBlockBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	b, ok := t.st.blocks[id]
	if !ok {
		return store.ErrNotFound
	}
	b.IsBooked = booked
	b.UpdatedAt = now()
	t.st.blocks[id] = b
	return nil
}

func (t *memTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if _, ok := t.st.appointments[appt.ID]; ok {
		return domain.Appointment{}, store.ErrConflict
	}
	if appt.BlockID.Valid {
		if _, ok := t.st.blocks[appt.BlockID.UUID]; !ok {
			return domain.Appointment{}, store.ErrNotFound
		}
		if appt.Status.Live() {
			for _, other := range t.st.appointments {
				if other.Status.Live() && other.BlockID == appt.BlockID {
					return domain.Appointment{}, store.ErrConflict
				}
			}
		}
	}
	ts := now()
	appt.StartTime = appt.StartTime.UTC()
	appt.EndTime = appt.EndTime.UTC()
	appt.CreatedAt, appt.UpdatedAt = ts, ts
	t.st.appointments[appt.ID] = appt
	return appt, nil
}

func (t *memTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = now()
	t.st.appointments[id] = a
	return a, nil
}

func (t *memTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.st.appointments[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.appointments, id)
	return nil
}

func (t *memTx) ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	return t.listAppointments(func(a domain.Appointment) bool { return a.DoctorID == doctorID }, window), nil
}

func (t *memTx) ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Appointment, error) {
	return t.listAppointments(func(a domain.Appointment) bool { return a.PatientID == patientID }, window), nil
}

func (t *memTx) listAppointments(match func(domain.Appointment) bool, window *domain.TimeWindow) []domain.Appointment {
	var out []domain.Appointment
	for _, a := range t.st.appointments {
		if !match(a) {
			continue
		}
		if window != nil && !a.Window().Overlaps(*window) {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return out
}

func (t *memTx) ListLiveAppointmentsOverlapping(ctx context.Context, doctorID uuid.UUID, window domain.TimeWindow) ([]domain.Appointment, error) {
	return t.listAppointments(func(a domain.Appointment) bool {
		return a.DoctorID == doctorID && a.Status.Live()
	}, &window), nil
}

func (t *memTx) ListLiveAppointmentsForBlocks(ctx context.Context, blockIDs []uuid.UUID) ([]domain.Appointment, error) {
	want := make(map[uuid.UUID]struct{}, len(blockIDs))
	for _, id := range blockIDs {
		want[id] = struct{}{}
	}
	return t.listAppointments(func(a domain.Appointment) bool {
		if !a.Status.Live() || !a.BlockID.Valid {
			return false
		}
		_, ok := want[a.BlockID.UUID]
		return ok
	}, nil), nil
}

func (t *memTx) InsertEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	ev.ID = t.st.nextEventID
	t.st.nextEventID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now()
	}
	t.st.events = append(t.st.events, ev)
	return nil
}

func sortAvailabilities(in []domain.Availability) {
	sort.Slice(in, func(i, j int) bool { return in[i].StartTime.Before(in[j].StartTime) })
}

func sortBlocks(in []domain.Block) {
	sort.Slice(in, func(i, j int) bool { return in[i].StartTime.Before(in[j].StartTime) })
}

func sortAppointments(in []domain.Appointment) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].StartTime.Equal(in[j].StartTime) {
			return in[i].StartTime.Before(in[j].StartTime)
		}
		return in[i].ID.String() < in[j].ID.String()
	})
}
