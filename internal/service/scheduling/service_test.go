package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
	"turnoplus/backend/internal/store/memstore"
)

var (
	fixedNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	doctorA  = uuid.MustParse("00000000-0000-0000-0000-00000000d0c1")
	patientA = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	patientB = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string][]string
	retries  map[string]int
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string][]string)
	}
	m.outcomes[op] = append(m.outcomes[op], outcome)
}

func (m *recordingMetrics) IncRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries == nil {
		m.retries = make(map[string]int)
	}
	m.retries[op]++
}

type fixture struct {
	svc     *Service
	store   *memstore.Store
	metrics *recordingMetrics
}

func newFixture(t *testing.T, blockDuration time.Duration, opts ...Option) fixture {
	t.Helper()
	st := memstore.New()
	st.AddDoctor(doctorA)
	st.AddPatient(patientA)
	st.AddPatient(patientB)

	m := &recordingMetrics{}
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithMetrics(m),
		WithBackoff(0),
	}
	svc := NewService(st, st, StaticBlockDuration(blockDuration), append(base, opts...)...)
	return fixture{svc: svc, store: st, metrics: m}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 12, day, hour, minute, 0, 0, time.UTC)
}

func requireValidation(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "error type = %T, want *ValidationError", err)
	if msg != "" {
		assert.Equal(t, msg, vErr.Error())
	}
}

func requireNotFound(t *testing.T, err error, resource string) {
	t.Helper()
	require.Error(t, err)
	var nErr *NotFoundError
	require.True(t, errors.As(err, &nErr), "error type = %T, want *NotFoundError", err)
	assert.Equal(t, resource, nErr.Resource)
}

func TestEndToEnd_EveningAvailability(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 21, 0))
	require.NoError(t, err)
	require.Len(t, av.Blocks, 4)
	for i, b := range av.Blocks {
		assert.True(t, b.StartTime.Equal(at(5, 17+i, 0)), "block %d start = %v", i, b.StartTime)
		assert.True(t, b.EndTime.Equal(at(5, 18+i, 0)), "block %d end = %v", i, b.EndTime)
		assert.False(t, b.IsBooked)
	}

	appt, err := f.svc.Book(ctx, BookInput{
		DoctorID:  doctorA,
		PatientID: patientA,
		Start:     at(5, 18, 0),
		End:       at(5, 19, 0),
		Notes:     "follow-up",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, appt.Status)
	assert.Equal(t, domain.FromBlock{BlockID: av.Blocks[1].ID}, appt.Source())

	free, err := f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 17, 0), at(5, 21, 0))
	require.NoError(t, err)
	require.Len(t, free, 3)
	for _, b := range free {
		assert.NotEqual(t, av.Blocks[1].ID, b.ID)
	}

	confirmed, err := f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

	completed, err := f.svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)

	list, err := f.svc.ListForDoctor(ctx, doctorA, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusCompleted, list[0].Status)

	kinds := make([]domain.EventType, 0, 3)
	for _, ev := range f.store.Events() {
		kinds = append(kinds, ev.EventType)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventAppointmentBooked,
		domain.EventAppointmentConfirmed,
		domain.EventAppointmentCompleted,
	}, kinds)
}

func TestStartNotBeforeEnd_AlwaysValidation(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	const msg = "start must be before end"

	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 18, 0), at(5, 17, 0))
	requireValidation(t, err, msg)

	_, err = f.svc.CreateAvailability(ctx, doctorA, at(5, 18, 0), at(5, 18, 0))
	requireValidation(t, err, msg)

	_, err = f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 18, 0), at(5, 17, 0))
	requireValidation(t, err, msg)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 18, 0), End: at(5, 18, 0)})
	requireValidation(t, err, msg)

	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 21, 0))
	require.NoError(t, err)
	end := at(5, 16, 0)
	_, err = f.svc.UpdateAvailability(ctx, av.ID, AvailabilityPatch{End: &end})
	requireValidation(t, err, msg)
}

func TestCreateAvailability_RejectsOverlap(t *testing.T) {
	f := newFixture(t, 30*time.Minute)
	ctx := context.Background()

	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 12, 0))
	require.NoError(t, err)

	_, err = f.svc.CreateAvailability(ctx, doctorA, at(5, 11, 0), at(5, 13, 0))
	requireValidation(t, err, msgOverlap)

	// Touching windows do not overlap.
	_, err = f.svc.CreateAvailability(ctx, doctorA, at(5, 12, 0), at(5, 13, 0))
	require.NoError(t, err)

	list, err := f.svc.ListAvailability(ctx, doctorA)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Len(t, list[0].Blocks, 6)
	assert.Len(t, list[1].Blocks, 2)
}

func TestCreateAvailability_Rejections(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 9, 30))
	requireValidation(t, err, msgTooShort)

	_, err = f.svc.CreateAvailability(ctx, uuid.New(), at(5, 9, 0), at(5, 12, 0))
	requireNotFound(t, err, "doctor")
}

func TestConcurrentBooking_ExactlyOneWins(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 18, 0))
	require.NoError(t, err)

	const bookers = 8
	patients := make([]uuid.UUID, bookers)
	for i := range patients {
		patients[i] = uuid.New()
		f.store.AddPatient(patients[i])
	}

	var wg sync.WaitGroup
	errs := make([]error, bookers)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(ctx, BookInput{
				DoctorID:  doctorA,
				PatientID: patients[i],
				Start:     at(5, 17, 0),
				End:       at(5, 18, 0),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		requireValidation(t, err, msgSlotUnavailable)
	}
	assert.Equal(t, 1, wins)

	list, err := f.svc.ListForDoctor(ctx, doctorA, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusPending, list[0].Status)
}

func TestBook_ContainingBlockAndOverlapRules(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 11, 0))
	require.NoError(t, err)

	appt, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 9, 15), End: at(5, 9, 45)})
	require.NoError(t, err)
	assert.Equal(t, av.Blocks[0].ID, appt.BlockID.UUID)
	assert.True(t, appt.StartTime.Equal(at(5, 9, 15)))

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientB, Start: at(5, 9, 30), End: at(5, 10, 30)})
	requireValidation(t, err, msgSlotUnavailable)

	// Outside every availability.
	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientB, Start: at(5, 12, 0), End: at(5, 13, 0)})
	requireValidation(t, err, msgSlotUnavailable)
}

func TestBook_ValidatesParticipantsAndLeadTime(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(1, 8, 0), at(1, 12, 0))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: uuid.New(), PatientID: patientA, Start: at(1, 10, 0), End: at(1, 11, 0)})
	requireValidation(t, err, "doctor not found")

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: uuid.New(), Start: at(1, 10, 0), End: at(1, 11, 0)})
	requireValidation(t, err, "patient not found")

	// fixedNow is 08:00; the 08:00 block starts inside the lead time.
	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(1, 8, 0), End: at(1, 9, 0)})
	requireValidation(t, err, "appointments must start at least 1h0m0s from now")

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(1, 9, 0), End: at(1, 10, 0)})
	require.NoError(t, err)
}

func TestCancel_IdempotentAndFreesBlock(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 18, 0))
	require.NoError(t, err)

	in := BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 17, 0), End: at(5, 18, 0)}
	appt, err := f.svc.Book(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	again, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, again.Status)
	assert.Len(t, f.store.Events(), 3, "second cancel must not write an event")

	free, err := f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 17, 0), at(5, 18, 0))
	require.NoError(t, err)
	require.Len(t, free, 1)

	in.PatientID = patientB
	rebooked, err := f.svc.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, appt.BlockID, rebooked.BlockID)
	assert.NotEqual(t, appt.ID, rebooked.ID)
}

func TestTransitions_Rejections(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 19, 0))
	require.NoError(t, err)

	pending, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 17, 0), End: at(5, 18, 0)})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, pending.ID)
	requireValidation(t, err, msgCompleteNotConfirmed)

	_, err = f.svc.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, pending.ID)
	requireValidation(t, err, msgConfirmCanceled)
	_, err = f.svc.Complete(ctx, pending.ID)
	requireValidation(t, err, msgCompleteNotConfirmed)

	done, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientB, Start: at(5, 18, 0), End: at(5, 19, 0)})
	require.NoError(t, err)
	confirmed, err := f.svc.Confirm(ctx, done.ID)
	require.NoError(t, err)
	same, err := f.svc.Confirm(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, confirmed.Status, same.Status)

	_, err = f.svc.Complete(ctx, done.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, done.ID)
	requireValidation(t, err, msgCancelCompleted)
	_, err = f.svc.Confirm(ctx, done.ID)
	requireValidation(t, err, msgConfirmCompleted)

	_, err = f.svc.Cancel(ctx, uuid.New())
	requireNotFound(t, err, "appointment")
}

func TestDeleteBlock(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 19, 0))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 17, 0), End: at(5, 18, 0)})
	require.NoError(t, err)

	err = f.svc.DeleteBlock(ctx, av.Blocks[0].ID)
	requireValidation(t, err, msgBlockBooked)

	require.NoError(t, f.svc.DeleteBlock(ctx, av.Blocks[1].ID))
	got, err := f.svc.GetAvailability(ctx, av.ID)
	require.NoError(t, err)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, av.Blocks[0].ID, got.Blocks[0].ID)

	err = f.svc.DeleteBlock(ctx, av.Blocks[1].ID)
	requireNotFound(t, err, "block")

	// Deleting the last block removes the availability.
	solo, err := f.svc.CreateAvailability(ctx, doctorA, at(6, 9, 0), at(6, 10, 0))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteBlock(ctx, solo.Blocks[0].ID))
	_, err = f.svc.GetAvailability(ctx, solo.ID)
	requireNotFound(t, err, "availability")
}

func TestDeleteAvailability(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 19, 0))
	require.NoError(t, err)

	appt, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 17, 0), End: at(5, 18, 0)})
	require.NoError(t, err)

	requireValidation(t, f.svc.DeleteAvailability(ctx, av.ID), msgAvailabilityBooked)

	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteAvailability(ctx, av.ID))

	requireNotFound(t, f.svc.DeleteAvailability(ctx, av.ID), "availability")

	kept, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Manual{}, kept.Source())
}

func TestDeleteUnbookedBlocks(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 20, 0))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 18, 0), End: at(5, 19, 0)})
	require.NoError(t, err)

	shrunk, err := f.svc.DeleteUnbookedBlocks(ctx, av.ID)
	require.NoError(t, err)
	require.NotNil(t, shrunk)
	require.Len(t, shrunk.Blocks, 1)
	assert.Equal(t, av.Blocks[1].ID, shrunk.Blocks[0].ID)

	empty, err := f.svc.CreateAvailability(ctx, doctorA, at(6, 9, 0), at(6, 11, 0))
	require.NoError(t, err)
	gone, err := f.svc.DeleteUnbookedBlocks(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	_, err = f.svc.GetAvailability(ctx, empty.ID)
	requireNotFound(t, err, "availability")
}

func TestUpdateAvailability_KeepsBlocksAndRetiles(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 21, 0))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 18, 0), End: at(5, 19, 0)})
	require.NoError(t, err)

	start, end := at(5, 18, 0), at(5, 22, 0)
	updated, err := f.svc.UpdateAvailability(ctx, av.ID, AvailabilityPatch{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, updated.Blocks, 4)
	assert.Equal(t, av.Blocks[1].ID, updated.Blocks[0].ID)
	assert.True(t, updated.Blocks[0].IsBooked)
	assert.True(t, updated.Blocks[3].StartTime.Equal(at(5, 21, 0)))
	assert.True(t, updated.StartTime.Equal(start))

	late := at(5, 19, 0)
	_, err = f.svc.UpdateAvailability(ctx, av.ID, AvailabilityPatch{Start: &late})
	requireValidation(t, err, msgBookedOutsideWindow)

	_, err = f.svc.UpdateAvailability(ctx, uuid.New(), AvailabilityPatch{Start: &late})
	requireNotFound(t, err, "availability")
}

func TestUpdateAvailability_DoesNotRefillDeletedBlocks(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 21, 0))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteBlock(ctx, av.Blocks[1].ID))

	end := at(5, 22, 0)
	updated, err := f.svc.UpdateAvailability(ctx, av.ID, AvailabilityPatch{End: &end})
	require.NoError(t, err)

	var starts []int
	for _, b := range updated.Blocks {
		starts = append(starts, b.StartTime.Hour())
	}
	assert.Equal(t, []int{17, 19, 20, 21}, starts)

	free, err := f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 18, 0), at(5, 19, 0))
	require.NoError(t, err)
	assert.Empty(t, free)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 18, 0), End: at(5, 19, 0)})
	requireValidation(t, err, msgSlotUnavailable)
}

func TestUpdateAvailability_RejectsEmptyResult(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 17, 0), at(5, 20, 0))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteBlock(ctx, av.Blocks[1].ID))

	start, end := at(5, 18, 0), at(5, 19, 0)
	_, err = f.svc.UpdateAvailability(ctx, av.ID, AvailabilityPatch{Start: &start, End: &end})
	requireValidation(t, err, msgNoBlocksLeft)

	got, err := f.svc.GetAvailability(ctx, av.ID)
	require.NoError(t, err)
	assert.Len(t, got.Blocks, 2)
}

func TestCancel_ManualAppointment(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	av, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 11, 0))
	require.NoError(t, err)

	var manual domain.Appointment
	f.store.Mutate(func(tx store.SchedulingTx) {
		created, err := tx.CreateAppointment(ctx, domain.Appointment{
			DoctorID:  doctorA,
			PatientID: patientA,
			Status:    domain.StatusConfirmed,
			StartTime: at(5, 9, 0),
			EndTime:   at(5, 10, 0),
		})
		require.NoError(t, err)
		manual = created
	})
	require.Equal(t, domain.Manual{}, manual.Source())

	canceled, err := f.svc.Cancel(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	after, err := f.svc.GetAvailability(ctx, av.ID)
	require.NoError(t, err)
	require.Len(t, after.Blocks, len(av.Blocks))
	for i, b := range after.Blocks {
		assert.Equal(t, av.Blocks[i].ID, b.ID)
		assert.False(t, b.IsBooked)
	}

	again, err := f.svc.Cancel(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, again.Status)
}

func TestUpdateAvailability_RejectsOverlapWithOthers(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	first, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 11, 0))
	require.NoError(t, err)
	_, err = f.svc.CreateAvailability(ctx, doctorA, at(5, 12, 0), at(5, 14, 0))
	require.NoError(t, err)

	end := at(5, 13, 0)
	_, err = f.svc.UpdateAvailability(ctx, first.ID, AvailabilityPatch{End: &end})
	requireValidation(t, err, msgOverlap)

	end = at(5, 12, 0)
	updated, err := f.svc.UpdateAvailability(ctx, first.ID, AvailabilityPatch{End: &end})
	require.NoError(t, err)
	assert.Len(t, updated.Blocks, 3)
}

func TestListAppointments_WindowFilterAndNotFound(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 12, 0))
	require.NoError(t, err)
	for _, h := range []int{11, 9} {
		_, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, h, 0), End: at(5, h+1, 0)})
		require.NoError(t, err)
	}

	all, err := f.svc.ListForPatient(ctx, patientA, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].StartTime.Before(all[1].StartTime))

	w := domain.TimeWindow{Start: at(5, 10, 30), End: at(5, 11, 30)}
	some, err := f.svc.ListForDoctor(ctx, doctorA, &w)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.True(t, some[0].StartTime.Equal(at(5, 11, 0)))

	_, err = f.svc.ListForDoctor(ctx, uuid.New(), nil)
	requireNotFound(t, err, "doctor")
	_, err = f.svc.ListForPatient(ctx, uuid.New(), nil)
	requireNotFound(t, err, "patient")
}

func TestBook_IdempotencyKey(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 11, 0))
	require.NoError(t, err)

	in := BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 9, 0), End: at(5, 10, 0), IdempotencyKey: "req-1"}
	first, err := f.svc.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, IdempotentAppointmentID(patientA, "req-1"), first.ID)

	replay, err := f.svc.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Len(t, f.store.Events(), 1)

	in.Start, in.End = at(5, 10, 0), at(5, 11, 0)
	_, err = f.svc.Book(ctx, in)
	requireValidation(t, err, msgIdempotencyMismatch)

	assert.NotEqual(t, IdempotentAppointmentID(patientA, "req-1"), IdempotentAppointmentID(patientB, "req-1"))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, time.Hour, WithMaxRetries(2))
	ctx := context.Background()

	f.store.FailNext(2)
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.Attempts())
	assert.Equal(t, 2, f.metrics.retries["create_availability"])

	f.store.FailNext(3)
	_, err = f.svc.CreateAvailability(ctx, doctorA, at(6, 9, 0), at(6, 10, 0))
	require.Error(t, err)
	var tErr *TransientError
	require.True(t, errors.As(err, &tErr), "error type = %T, want *TransientError", err)
	assert.Equal(t, 3, tErr.Attempts)
	assert.Equal(t, "create_availability", tErr.Op)
	assert.ErrorIs(t, err, store.ErrTransient)
	assert.Equal(t, []string{"ok", "transient"}, f.metrics.outcomes["create_availability"])

	list, err := f.svc.ListAvailability(ctx, doctorA)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRun_ValidationNotRetried(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)
	before := f.store.Attempts()

	_, err = f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 30), at(5, 11, 0))
	requireValidation(t, err, msgOverlap)
	assert.Equal(t, before+1, f.store.Attempts())
	assert.Equal(t, "rejected", f.metrics.outcomes["create_availability"][1])
}

type failingLocker struct {
	err error
}

func (l failingLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.err
}

func TestBook_SlotGuardFailureIsTransient(t *testing.T) {
	f := newFixture(t, time.Hour,
		WithSlotLocker(failingLocker{err: store.ErrTransient}),
		WithMaxRetries(1))
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 9, 0), End: at(5, 10, 0)})
	var tErr *TransientError
	require.True(t, errors.As(err, &tErr), "error type = %T, want *TransientError", err)
	assert.Equal(t, 2, tErr.Attempts)

	free, err := f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)
	assert.Len(t, free, 1)
}

func TestDeleteAppointment_ReleasesBlock(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.svc.CreateAvailability(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)
	appt, err := f.svc.Book(ctx, BookInput{DoctorID: doctorA, PatientID: patientA, Start: at(5, 9, 0), End: at(5, 10, 0)})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAppointment(ctx, appt.ID))
	_, err = f.svc.GetAppointment(ctx, appt.ID)
	requireNotFound(t, err, "appointment")

	free, err := f.svc.ListAvailableBlocks(ctx, doctorA, at(5, 9, 0), at(5, 10, 0))
	require.NoError(t, err)
	assert.Len(t, free, 1)

	events := f.store.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventAppointmentDeleted, events[len(events)-1].EventType)

	requireNotFound(t, f.svc.DeleteAppointment(ctx, appt.ID), "appointment")
}
