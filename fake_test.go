package autostep

import (
	"sync"

	"github.com/pkg/errors"
)

// fakeDriver records every call and returns scripted values, standing in
// for the serial firmware in tests.
type fakeDriver struct {
	mu sync.Mutex

	calls []string

	position  float64
	positions []float64 // queued Position() results, consumed in order
	feedback  []float64 // queued RunWithFeedback() results
	busy      bool
	params    Params

	runVelocities []float64
	moveTargets   []float64
	moveMode      MoveMode

	// failOn maps a method name to the error it should return.
	failOn map[string]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: map[string]error{}}
}

func (f *fakeDriver) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeDriver) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeDriver) lastRunVelocity() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runVelocities) == 0 {
		return 0, false
	}
	return f.runVelocities[len(f.runVelocities)-1], true
}

func (f *fakeDriver) Enable() error  { return f.record("Enable") }
func (f *fakeDriver) Release() error { return f.record("Release") }

func (f *fakeDriver) SetMoveMode(mode MoveMode) error {
	err := f.record("SetMoveMode")
	f.mu.Lock()
	f.moveMode = mode
	f.mu.Unlock()
	return err
}

func (f *fakeDriver) Run(velocity float64) error {
	err := f.record("Run")
	f.mu.Lock()
	f.runVelocities = append(f.runVelocities, velocity)
	f.mu.Unlock()
	return err
}

func (f *fakeDriver) RunWithFeedback(velocity float64) (float64, error) {
	if err := f.record("RunWithFeedback"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runVelocities = append(f.runVelocities, velocity)
	if len(f.feedback) == 0 {
		return f.position, nil
	}
	v := f.feedback[0]
	f.feedback = f.feedback[1:]
	return v, nil
}

func (f *fakeDriver) MoveTo(position float64) error {
	err := f.record("MoveTo")
	f.mu.Lock()
	f.moveTargets = append(f.moveTargets, position)
	f.position = position
	f.mu.Unlock()
	return err
}

func (f *fakeDriver) SetPosition(position float64) error {
	err := f.record("SetPosition")
	f.mu.Lock()
	f.position = position
	f.mu.Unlock()
	return err
}

func (f *fakeDriver) Position() (float64, error) {
	if err := f.record("Position"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.positions) == 0 {
		return f.position, nil
	}
	v := f.positions[0]
	f.positions = f.positions[1:]
	return v, nil
}

func (f *fakeDriver) Busy() (bool, error) {
	if err := f.record("Busy"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy, nil
}

func (f *fakeDriver) SoftStop() error { return f.record("SoftStop") }

func (f *fakeDriver) Params() (Params, error) {
	if err := f.record("Params"); err != nil {
		return Params{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params, nil
}

func (f *fakeDriver) SetStepMode(mode string) error {
	if !validStepMode(mode) {
		return errors.Errorf("unknown step mode %q", mode)
	}
	return f.record("SetStepMode")
}

func (f *fakeDriver) SetFullstepPerRev(n int) error { return f.record("SetFullstepPerRev") }

func (f *fakeDriver) SetGearRatio(ratio float64) error { return f.record("SetGearRatio") }

func (f *fakeDriver) SetProfile(mode MoveMode, p ProfileParams) error {
	return f.record("SetProfile")
}

func (f *fakeDriver) Close() error { return f.record("Close") }
