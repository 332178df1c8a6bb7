package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/fault"
)

func TestMintTaskID(t *testing.T) {
	s := &State{}
	require.Equal(t, "t000001", s.MintTaskID())
	require.Equal(t, "t000002", s.MintTaskID())
	require.Equal(t, int64(2), s.Seq)
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusCancelled.Terminal())
}

func TestRecomputeNextWake(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &State{Tasks: map[string]*Task{
		"t000001": {ID: "t000001", Type: TaskSleep, Status: TaskPending, RunAfter: now.Add(10 * time.Second)},
		"t000002": {ID: "t000002", Type: TaskExec, Status: TaskLeased, Lease: &Lease{ExpiresAt: now.Add(5 * time.Second), Token: 1}},
		"t000003": {ID: "t000003", Type: TaskExec, Status: TaskCompleted},
	}}

	s.RecomputeNextWake()
	require.NotNil(t, s.NextWake)
	require.True(t, s.NextWake.Equal(now.Add(5*time.Second)))

	// No pending or leased tasks leaves nothing to wake for.
	s.Tasks["t000001"].Status = TaskCompleted
	s.Tasks["t000002"].Status = TaskFailed
	s.RecomputeNextWake()
	require.Nil(t, s.NextWake)
}

func TestTaskReservable(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	pendingDue := &Task{Type: TaskExec, Status: TaskPending, RunAfter: now}
	pendingFuture := &Task{Type: TaskExec, Status: TaskPending, RunAfter: now.Add(time.Second)}
	leasedLive := &Task{Type: TaskExec, Status: TaskLeased, Lease: &Lease{ExpiresAt: now.Add(time.Minute)}}
	leasedExpired := &Task{Type: TaskExec, Status: TaskLeased, Lease: &Lease{ExpiresAt: now.Add(-time.Second)}}
	sleeper := &Task{Type: TaskSleep, Status: TaskPending, RunAfter: now}
	done := &Task{Type: TaskExec, Status: TaskCompleted}

	require.True(t, pendingDue.Reservable(now))
	require.False(t, pendingFuture.Reservable(now))
	require.False(t, leasedLive.Reservable(now))
	require.True(t, leasedExpired.Reservable(now))
	require.False(t, sleeper.Reservable(now))
	require.False(t, done.Reservable(now))
}

func TestStateCloneIsDeep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	result := Int(7)
	s := &State{
		ID:     "wf-1",
		Status: StatusRunning,
		Ctx:    MustParse(`{"i":1,"$wf":{"cursor":2}}`),
		History: []Event{
			{Type: EventWorkflowCreated, TS: now},
			{Type: EventActivityCompleted, TS: now, TaskID: "t000001", Result: &result},
		},
		Tasks: map[string]*Task{
			"t000001": {
				ID: "t000001", Type: TaskExec, Status: TaskLeased,
				Lease:       &Lease{Owner: "w1", ExpiresAt: now, Token: 3},
				RetryDelays: []float64{2, 4},
				Error:       fault.New(fault.Retryable, "transient"),
			},
		},
		Signals: []Signal{{Name: "go", Payload: String("p"), TS: now}},
	}

	clone := s.Clone()
	require.NoError(t, clone.Ctx.SetPath("i", Int(99)))
	clone.Tasks["t000001"].Lease.Token = 42
	clone.Tasks["t000001"].RetryDelays[0] = 9
	clone.History[1].Result = nil
	clone.Signals[0].Name = "changed"

	require.Equal(t, 1, s.Ctx.Get("i").Int())
	require.Equal(t, int64(3), s.Tasks["t000001"].Lease.Token)
	require.Equal(t, 2.0, s.Tasks["t000001"].RetryDelays[0])
	require.NotNil(t, s.History[1].Result)
	require.Equal(t, "go", s.Signals[0].Name)
}

func TestStateJSONRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wake := now.Add(2 * time.Second)
	s := &State{
		ID:        "wf-1",
		Rev:       3,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Decider:   "hello",
		Ctx:       MustParse(`{"i":0}`),
		History:   []Event{{Type: EventWorkflowCreated, TS: now}},
		Tasks: map[string]*Task{
			"t000001": {
				ID: "t000001", Type: TaskExec, Status: TaskPending, RunAfter: now,
				Name: "E:0", Code: ptrValue(MustParse(`{"action":"inc","input":{"to":1}}`)),
				MaxTries: 3,
			},
		},
		NeedDecide: true,
		NextWake:   &wake,
		Seq:        1,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, s.Rev, got.Rev)
	require.Equal(t, s.Status, got.Status)
	require.True(t, got.Ctx.Equal(s.Ctx))
	require.Len(t, got.History, 1)
	require.Equal(t, EventWorkflowCreated, got.History[0].Type)
	require.True(t, got.Tasks["t000001"].Code.Equal(*s.Tasks["t000001"].Code))
	require.True(t, got.NextWake.Equal(wake))
}

func ptrValue(v Value) *Value { return &v }
