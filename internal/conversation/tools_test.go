package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/puri-adityakumar/mednotes-ai/internal/appointments"
	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
)

type fakeScheduler struct {
	mu       sync.Mutex
	taken    map[string]bool
	checkErr error
	bookErr  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{taken: make(map[string]bool)}
}

func slotKey(doctorID uuid.UUID, at time.Time) string {
	return doctorID.String() + "|" + at.UTC().Format(time.RFC3339)
}

func (f *fakeScheduler) CheckAvailability(_ context.Context, doctorID uuid.UUID, at time.Time, _ int) (appointments.Availability, error) {
	if f.checkErr != nil {
		return appointments.Availability{}, f.checkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken[slotKey(doctorID, at)] {
		return appointments.Availability{Available: false, Reason: "The doctor already has an appointment in this time slot."}, nil
	}
	return appointments.Availability{Available: true, Reason: "This time slot is available."}, nil
}

func (f *fakeScheduler) Book(_ context.Context, p appointments.CreateParams) (*appointments.Appointment, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey(p.DoctorID, p.At)
	if f.taken[key] {
		return nil, appointments.ErrSlotTaken
	}
	f.taken[key] = true
	return &appointments.Appointment{
		ID:              uuid.New(),
		PatientID:       p.PatientID,
		DoctorID:        p.DoctorID,
		AppointmentDate: p.At,
		Status:          appointments.StatusScheduled,
		Notes:           p.Notes,
		BookingChatID:   p.BookingChatID,
	}, nil
}

type fakeDirectory struct {
	doctors []profiles.Doctor
	err     error
}

func (f *fakeDirectory) ListDoctors(context.Context) ([]profiles.Doctor, error) {
	return f.doctors, f.err
}

type fakeLinker struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeLinker) LinkAppointment(_ context.Context, _ uuid.UUID, _ string, appointmentID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, appointmentID)
	return 2, nil
}

func testToolset(t *testing.T, sched *fakeScheduler, dir *fakeDirectory, linker *fakeLinker) *Toolset {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	var lk AppointmentLinker
	if linker != nil {
		lk = linker
	}
	return NewToolset(ToolsetConfig{
		Scheduler: sched,
		Directory: dir,
		Linker:    lk,
		PatientID: uuid.New(),
		ChatID:    uuid.NewString(),
		Location:  loc,
		SlotMins:  30,
		Now:       func() time.Time { return time.Date(2025, 12, 1, 9, 0, 0, 0, loc) },
	})
}

func callArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCheckAvailabilityToolFreeSlot(t *testing.T) {
	sched := newFakeScheduler()
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	ts := testToolset(t, sched, dir, nil)

	raw, err := ts.Execute(context.Background(), ToolCall{
		Name: ToolCheckAvailability,
		Args: callArgs(t, CheckAvailabilityInput{
			DoctorName:      "Dr. Shekhar Maurya",
			AppointmentDate: "15 december 2025",
			AppointmentTime: "12 pm",
		}),
	})
	require.NoError(t, err)

	var res CheckAvailabilityResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.True(t, res.Available)
	require.Contains(t, res.SuggestedAction, "proceed with booking")
}

func TestCheckAvailabilityToolInvalidDate(t *testing.T) {
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	ts := testToolset(t, newFakeScheduler(), dir, nil)

	raw, err := ts.Execute(context.Background(), ToolCall{
		Name: ToolCheckAvailability,
		Args: callArgs(t, CheckAvailabilityInput{
			DoctorName:      "Shekhar",
			AppointmentDate: "not a date",
			AppointmentTime: "sometime",
		}),
	})
	require.NoError(t, err)

	var res CheckAvailabilityResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.False(t, res.Available)
	require.Contains(t, res.Reason, "Invalid date or time format")
}

func TestCheckAvailabilityToolUnknownDoctor(t *testing.T) {
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	ts := testToolset(t, newFakeScheduler(), dir, nil)

	raw, err := ts.Execute(context.Background(), ToolCall{
		Name: ToolCheckAvailability,
		Args: callArgs(t, CheckAvailabilityInput{
			DoctorName:      "Dr. Patel",
			AppointmentDate: "tomorrow",
			AppointmentTime: "2pm",
		}),
	})
	require.NoError(t, err)

	var res CheckAvailabilityResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.False(t, res.Available)
	require.Contains(t, res.Reason, "Available doctors: Dr. Shekhar Maurya")
}

func TestBookAppointmentToolSuccess(t *testing.T) {
	sched := newFakeScheduler()
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	linker := &fakeLinker{}
	ts := testToolset(t, sched, dir, linker)

	raw, err := ts.Execute(context.Background(), ToolCall{
		Name: ToolBookAppointment,
		Args: callArgs(t, BookAppointmentInput{
			DoctorName:      "shekhar",
			AppointmentDate: "2025-12-15",
			AppointmentTime: "14:00",
			Notes:           "persistent cough",
		}),
	})
	require.NoError(t, err)

	var res BookAppointmentResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.True(t, res.Success)
	require.NotEmpty(t, res.AppointmentID)
	require.Contains(t, res.Message, "Dr. Shekhar Maurya")
	require.Contains(t, res.Message, "Monday, December 15th, 2025")
	require.Contains(t, res.Message, "2:00 PM")
	require.Contains(t, res.Message, res.AppointmentID)
	require.Len(t, linker.calls, 1)
}

func TestBookAppointmentToolSlotTaken(t *testing.T) {
	sched := newFakeScheduler()
	doctorID := uuid.New()
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: doctorID, FirstName: "Shekhar", LastName: "Maurya"}}}
	ts := testToolset(t, sched, dir, nil)

	args := callArgs(t, BookAppointmentInput{
		DoctorName:      "Maurya",
		AppointmentDate: "2025-12-15",
		AppointmentTime: "2pm",
	})

	raw, err := ts.Execute(context.Background(), ToolCall{Name: ToolBookAppointment, Args: args})
	require.NoError(t, err)
	var first BookAppointmentResult
	require.NoError(t, json.Unmarshal(raw, &first))
	require.True(t, first.Success)

	raw, err = ts.Execute(context.Background(), ToolCall{Name: ToolBookAppointment, Args: args})
	require.NoError(t, err)
	var second BookAppointmentResult
	require.NoError(t, json.Unmarshal(raw, &second))
	require.False(t, second.Success)
	require.Contains(t, second.Error, "already has an appointment")
}

func TestBookAppointmentToolLinkerFailureStillBooks(t *testing.T) {
	sched := newFakeScheduler()
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	linker := &fakeLinker{err: context.DeadlineExceeded}
	ts := testToolset(t, sched, dir, linker)

	raw, err := ts.Execute(context.Background(), ToolCall{
		Name: ToolBookAppointment,
		Args: callArgs(t, BookAppointmentInput{
			DoctorName:      "Shekhar Maurya",
			AppointmentDate: "tomorrow",
			AppointmentTime: "11 am",
		}),
	})
	require.NoError(t, err)

	var res BookAppointmentResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.True(t, res.Success)
}

func TestBookAppointmentConcurrentSingleWinner(t *testing.T) {
	sched := newFakeScheduler()
	dir := &fakeDirectory{doctors: []profiles.Doctor{{ID: uuid.New(), FirstName: "Shekhar", LastName: "Maurya"}}}
	ts := testToolset(t, sched, dir, nil)

	args := callArgs(t, BookAppointmentInput{
		DoctorName:      "Shekhar Maurya",
		AppointmentDate: "2025-12-20",
		AppointmentTime: "10:00",
	})

	const attempts = 8
	results := make([]BookAppointmentResult, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := ts.Execute(context.Background(), ToolCall{Name: ToolBookAppointment, Args: args})
			if err != nil {
				t.Error(err)
				return
			}
			if err := json.Unmarshal(raw, &results[i]); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.Success {
			wins++
		} else {
			require.Contains(t, r.Error, "already has an appointment")
		}
	}
	require.Equal(t, 1, wins, "exactly one booking should win the slot")
}

func TestExecuteUnknownTool(t *testing.T) {
	ts := testToolset(t, newFakeScheduler(), &fakeDirectory{}, nil)
	_, err := ts.Execute(context.Background(), ToolCall{Name: "cancelAppointment", Args: []byte(`{}`)})
	require.Error(t, err)
}
