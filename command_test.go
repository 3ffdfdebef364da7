package autostep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

type testRig struct {
	drv     *fakeDriver
	state   *sharedState
	channel *Channel
	hub     *Hub
	motion  *Executor
	tracker *Tracker
	router  *Router
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	drv := newFakeDriver()
	state := &sharedState{}
	channel := NewChannel(drv)
	hub := NewHub()
	motion := NewExecutor(context.Background(), state, channel, hub, time.Millisecond, logger)
	tracker := NewTracker(state, channel, hub, 5.0, logger)
	router := NewRouter(state, channel, motion, tracker, 0.005, logger)
	return &testRig{
		drv:     drv,
		state:   state,
		channel: channel,
		hub:     hub,
		motion:  motion,
		tracker: tracker,
		router:  router,
	}
}

func (r *testRig) waitDone(t *testing.T) func() {
	t.Helper()
	done := make(chan struct{}, 4)
	r.motion.OnDone = func() { done <- struct{}{} }
	return func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("motion profile did not complete")
		}
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	rig := newTestRig(t)

	res := rig.router.Dispatch("warp_drive", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown command", res.Message)
	assert.Empty(t, rig.drv.calls)
}

func TestDispatchMissingArguments(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		command string
		message string
	}{
		{"run", "velocity argument missing"},
		{"move_to", "position argument missing"},
		{"set_position", "position argument missing"},
		{"set_move_mode", "mode argument missing"},
		{"run_trajectory", "positions argument missing"},
		{
			"sinusoid",
			"amplitude argument missing, period argument missing, phase argument missing, " +
				"offset argument missing, num_cycle argument missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.command, func(t *testing.T) {
			res := rig.router.Dispatch(tc.command, map[string]interface{}{})
			assert.False(t, res.Success)
			assert.Equal(t, tc.message, res.Message)
		})
	}

	// Validation failures must never reach the actuator.
	assert.Empty(t, rig.drv.calls)
}

func TestDispatchPartialSinusoidArguments(t *testing.T) {
	rig := newTestRig(t)

	res := rig.router.Dispatch("sinusoid", map[string]interface{}{
		"amplitude": 10.0,
		"period":    2.0,
		"offset":    0.0,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "phase argument missing, num_cycle argument missing", res.Message)
	assert.Empty(t, rig.drv.calls)
}

func TestRunCommand(t *testing.T) {
	rig := newTestRig(t)

	res := rig.router.Dispatch("run", map[string]interface{}{"velocity": 42.5})
	require.True(t, res.Success)

	vel, ok := rig.drv.lastRunVelocity()
	require.True(t, ok)
	assert.Equal(t, 42.5, vel)
}

func TestEnableReleaseFlags(t *testing.T) {
	rig := newTestRig(t)

	res := rig.router.Dispatch("enable", nil)
	require.True(t, res.Success)
	enabled, _, _ := rig.state.snapshot()
	assert.True(t, enabled)

	res = rig.router.Dispatch("release", nil)
	require.True(t, res.Success)
	enabled, _, _ = rig.state.snapshot()
	assert.False(t, enabled)
}

func TestGetPositionFields(t *testing.T) {
	rig := newTestRig(t)
	rig.drv.position = 123.5

	res := rig.router.Dispatch("get_position", nil)
	require.True(t, res.Success)

	resp := res.Response()
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 123.5, resp["position"])
}

func TestIsBusyFields(t *testing.T) {
	rig := newTestRig(t)
	rig.drv.busy = true

	res := rig.router.Dispatch("is_busy", nil)
	require.True(t, res.Success)
	assert.Equal(t, true, res.Fields["is_busy"])
}

func TestSetMoveMode(t *testing.T) {
	rig := newTestRig(t)

	t.Run("invalid mode", func(t *testing.T) {
		res := rig.router.Dispatch("set_move_mode", map[string]interface{}{"mode": "turbo"})
		assert.False(t, res.Success)
		assert.Equal(t, "mode must be 'max' or 'jog'", res.Message)
		assert.Zero(t, rig.drv.callCount("SetMoveMode"))
	})

	t.Run("max", func(t *testing.T) {
		res := rig.router.Dispatch("set_move_mode", map[string]interface{}{"mode": "max"})
		require.True(t, res.Success)
		assert.Equal(t, MoveModeMax, rig.drv.moveMode)
	})

	t.Run("jog", func(t *testing.T) {
		res := rig.router.Dispatch("set_move_mode", map[string]interface{}{"mode": "jog"})
		require.True(t, res.Success)
		assert.Equal(t, MoveModeJog, rig.drv.moveMode)
	})
}

func TestGetParamsFields(t *testing.T) {
	rig := newTestRig(t)
	rig.drv.params = Params{StepMode: "STEP_FS_64", FullstepPerRev: 200, GearRatio: 2}

	res := rig.router.Dispatch("get_params", nil)
	require.True(t, res.Success)

	params, ok := res.Fields["params"].(Params)
	require.True(t, ok)
	assert.Equal(t, "STEP_FS_64", params.StepMode)
}

func TestSinusoidConflict(t *testing.T) {
	rig := newTestRig(t)
	wait := rig.waitDone(t)

	// Long enough that the second dispatch lands mid-playback.
	res := rig.router.Dispatch("sinusoid", map[string]interface{}{
		"amplitude": 10.0, "period": 10.0, "phase": 0.0, "offset": 0.0, "num_cycle": 1.0,
	})
	require.True(t, res.Success)

	res = rig.router.Dispatch("sinusoid", map[string]interface{}{
		"amplitude": 10.0, "period": 10.0, "phase": 0.0, "offset": 0.0, "num_cycle": 1.0,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "motion already running", res.Message)

	res = rig.router.Dispatch("soft_stop", nil)
	require.True(t, res.Success)
	wait()
	assert.Equal(t, 1, rig.drv.callCount("SoftStop"))
}

func TestSoftStopCancelsTrajectory(t *testing.T) {
	rig := newTestRig(t)
	wait := rig.waitDone(t)

	positions := make([]interface{}, 1000)
	for i := range positions {
		positions[i] = float64(i)
	}
	res := rig.router.Dispatch("run_trajectory", map[string]interface{}{
		"positions": positions,
		"sample_dt": 0.1,
	})
	require.True(t, res.Success)

	res = rig.router.Dispatch("soft_stop", nil)
	require.True(t, res.Success)
	wait()

	_, _, running := rig.state.snapshot()
	assert.False(t, running)
}

func TestRunTrajectoryValidation(t *testing.T) {
	rig := newTestRig(t)

	t.Run("too short", func(t *testing.T) {
		res := rig.router.Dispatch("run_trajectory", map[string]interface{}{
			"positions": []interface{}{1.0},
		})
		assert.False(t, res.Success)
		assert.Equal(t, "trajectory requires at least 2 samples", res.Message)
	})

	t.Run("non-numeric sample", func(t *testing.T) {
		res := rig.router.Dispatch("run_trajectory", map[string]interface{}{
			"positions": []interface{}{1.0, "two"},
		})
		assert.False(t, res.Success)
		assert.Equal(t, "positions[1] is not a number", res.Message)
	})

	assert.Empty(t, rig.drv.calls)
}

func TestTrackingModeCommands(t *testing.T) {
	rig := newTestRig(t)

	res := rig.router.Dispatch("enable_tracking_mode", nil)
	require.True(t, res.Success)
	_, tracking, _ := rig.state.snapshot()
	assert.True(t, tracking)
	assert.Equal(t, MoveModeMax, rig.drv.moveMode)

	res = rig.router.Dispatch("disable_tracking_mode", nil)
	require.True(t, res.Success)
	_, tracking, _ = rig.state.snapshot()
	assert.False(t, tracking)
	assert.Equal(t, MoveModeJog, rig.drv.moveMode)
}

func TestRouterCoversCommandSet(t *testing.T) {
	rig := newTestRig(t)

	want := []string{
		"run", "enable", "release", "move_to", "soft_stop",
		"set_position", "get_position", "is_busy", "set_move_mode",
		"get_params", "print_params", "sinusoid", "run_trajectory",
		"enable_tracking_mode", "disable_tracking_mode",
	}
	assert.ElementsMatch(t, want, rig.router.Commands())
}

func TestResultResponse(t *testing.T) {
	res := Result{Success: false, Message: "velocity argument missing"}
	assert.Equal(t, map[string]interface{}{
		"success": false,
		"message": "velocity argument missing",
	}, res.Response())

	res = Result{Success: true, Fields: map[string]interface{}{"position": 1.5}}
	assert.Equal(t, map[string]interface{}{
		"success":  true,
		"position": 1.5,
	}, res.Response())
}
