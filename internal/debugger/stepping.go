package debugger

import (
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
)

// StepKind selects one of the three stepping operations §4.6 names.
type StepKind int

const (
	StepIn StepKind = iota
	StepOver
	StepOut
)

// Step implements §4.6's "Step setup": create a stepper, mask security/
// class-init events, disable unmapped-stop, apply JMC, disable every other
// stepper process-wide, clear variable handles, then issue StepOut,
// StepRange (when symbol data gives an IL range for the current IP), or a
// bare Step as a fallback.
func (c *Controller) Step(tid engine.ThreadID, kind StepKind) error {
	if c.State() != StateStopped {
		return errors.New("Step", errors.InvalidState, "process is not stopped")
	}
	if err := c.issueStep(tid, kind); err != nil {
		return err
	}
	return c.Continue()
}

// issueStep runs the step-setup sequence itself (stepper creation, masks,
// JMC, disabling other steppers, clearing variable handles, and issuing the
// chosen step) without touching the stop counter or resuming the engine —
// the part shared by the public Step and the StepComplete callback's silent
// JMC reissue.
func (c *Controller) issueStep(tid engine.ThreadID, kind StepKind) error {
	thread, ok := c.process.Thread(tid)
	if !ok {
		return errors.New("Step", errors.NotFound, "no such thread")
	}

	stepper := c.process.CreateStepper(thread)
	stepper.SetInterceptMask(engine.AllExceptSecurityAndClassInit())
	stepper.SetUnmappedStopMask(engine.UnmappedStopNone)
	c.jmcMu.Lock()
	jmc := c.jmc
	c.jmcMu.Unlock()
	stepper.SetJMC(jmc)

	c.disableOtherSteppersLocked(tid)
	c.vars.Reset()

	var err error
	switch kind {
	case StepOut:
		err = stepper.StepOut()
	default:
		stepIn := kind == StepIn
		start, end := c.mods.GetStepRangeFromCurrentIP(thread)
		if end > start {
			err = stepper.StepRange(stepIn, start, end)
		} else {
			err = stepper.Step(stepIn)
		}
	}
	if err != nil {
		stepper.Disable()
		return errors.Wrap("Step", errors.EngineError, "issuing step failed", err)
	}

	c.steppersMu.Lock()
	c.steppers[tid] = stepper
	c.steppersMu.Unlock()
	return nil
}

// disableOtherSteppersLocked disables and forgets every stepper other than
// tid's, per the "disable all other steppers process-wide" rule.
func (c *Controller) disableOtherSteppersLocked(tid engine.ThreadID) {
	c.steppersMu.Lock()
	defer c.steppersMu.Unlock()
	for t, st := range c.steppers {
		if t == tid {
			continue
		}
		st.Disable()
		delete(c.steppers, t)
	}
}

// SetJMC toggles Just-My-Code mode process-wide.
func (c *Controller) SetJMC(enabled bool) {
	c.jmcMu.Lock()
	c.jmc = enabled
	c.jmcMu.Unlock()
}
