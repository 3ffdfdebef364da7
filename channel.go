package autostep

import "sync"

// Channel serializes every call into the actuator driver. The serial link
// handles one request/response exchange at a time; concurrent writers would
// interleave frames, so all physical I/O crosses this mutex.
//
// The channel lock is acquired after the state lock when both are needed,
// never the other way around.
type Channel struct {
	mu  sync.Mutex
	drv Driver
}

func NewChannel(drv Driver) *Channel {
	return &Channel{drv: drv}
}

func (c *Channel) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Enable()
}

func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Release()
}

func (c *Channel) SetMoveMode(mode MoveMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetMoveMode(mode)
}

func (c *Channel) Run(velocity float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Run(velocity)
}

func (c *Channel) RunWithFeedback(velocity float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.RunWithFeedback(velocity)
}

func (c *Channel) MoveTo(position float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.MoveTo(position)
}

func (c *Channel) SetPosition(position float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetPosition(position)
}

func (c *Channel) Position() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Position()
}

func (c *Channel) Busy() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Busy()
}

func (c *Channel) SoftStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SoftStop()
}

func (c *Channel) Params() (Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Params()
}

func (c *Channel) SetStepMode(mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetStepMode(mode)
}

func (c *Channel) SetFullstepPerRev(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetFullstepPerRev(n)
}

func (c *Channel) SetGearRatio(ratio float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetGearRatio(ratio)
}

func (c *Channel) SetProfile(mode MoveMode, p ProfileParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.SetProfile(mode, p)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv.Close()
}
