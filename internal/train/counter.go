package train

// EpochCounter numbers epochs continuously across repeated Fit calls within
// one process. It is never saved with the model.
//
// The first Fit of n epochs sets the counter to n; every later Fit of m
// epochs adds m.
type EpochCounter struct {
	value   int
	started bool
}

// Value returns the number of epochs completed so far.
func (c *EpochCounter) Value() int {
	return c.value
}

// Started reports whether any Fit has completed.
func (c *EpochCounter) Started() bool {
	return c.started
}

// Advance records that epochs more epochs have completed.
func (c *EpochCounter) Advance(epochs int) {
	if !c.started {
		c.value = epochs
		c.started = true
		return
	}
	c.value += epochs
}
