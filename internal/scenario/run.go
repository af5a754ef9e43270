package scenario

import (
	"errors"
	"fmt"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/status"
)

var log = logger.WithPrefix("scenario")

// StepResult is the outcome of one step.
type StepResult struct {
	Index int
	Do    string
	// Deliveries are the events delivered while the step ran.
	Deliveries []input.Delivery
	// Failures are the checks the step did not meet.
	Failures []string
}

func (r StepResult) Failed() bool {
	return len(r.Failures) > 0
}

// Result sums up a run.
type Result struct {
	Name       string
	Steps      int
	Deliveries int
	Failed     []StepResult
}

func (r Result) Passed() bool {
	return len(r.Failed) == 0
}

// Run executes a scenario one step at a time against a fresh engine.
type Run struct {
	sc      *Scenario
	engine  *arbiter.Engine
	tree    *input.Tree
	devices *input.Devices
	out     input.Deliverer

	next int
	// pending holds deliveries not yet checked by an expect step.
	pending []input.Delivery
	current []input.Delivery
	result  Result
}

// New builds the scenario's devices and windows and an engine over
// them. Deliveries are forwarded to out, which may be nil.
func New(sc *Scenario, opts arbiter.Options, out input.Deliverer) (*Run, error) {
	devices, err := buildDevices(sc.Devices)
	if err != nil {
		return nil, err
	}
	tree, err := buildTree(sc.Windows)
	if err != nil {
		return nil, err
	}
	r := &Run{
		sc:      sc,
		tree:    tree,
		devices: devices,
		out:     out,
		result:  Result{Name: sc.Name},
	}
	r.engine = arbiter.New(devices, tree, r, opts)
	return r, nil
}

func buildDevices(specs []DeviceSpec) (*input.Devices, error) {
	devices := input.NewDevices()
	byID := make(map[input.DeviceID]*input.Device, len(specs))
	for _, s := range specs {
		use, ok := uses[s.Use]
		if !ok {
			return nil, fmt.Errorf("device %d: unknown use %q", s.ID, s.Use)
		}
		d := &input.Device{ID: s.ID, Name: s.Name, Use: use, Keys: s.Keys, Buttons: s.Buttons, Gesture: s.Gesture}
		switch s.Touch {
		case "":
		case "direct", "dependent":
			mode := input.DirectTouch
			if s.Touch == "dependent" {
				mode = input.DependentTouch
			}
			n := s.MaxTouches
			if n == 0 {
				n = 10
			}
			d.Touch = &input.TouchClass{Mode: mode, MaxTouches: n}
		default:
			return nil, fmt.Errorf("device %d: unknown touch mode %q", s.ID, s.Touch)
		}
		if err := devices.Add(d); err != nil {
			return nil, fmt.Errorf("device %d: %w", s.ID, err)
		}
		byID[s.ID] = d
	}
	for _, s := range specs {
		if s.Attached == 0 {
			continue
		}
		other, ok := byID[s.Attached]
		if !ok {
			return nil, fmt.Errorf("device %d: attached to unknown device %d", s.ID, s.Attached)
		}
		byID[s.ID].Attached = other
	}
	return devices, nil
}

func buildTree(specs []WindowSpec) (*input.Tree, error) {
	windows := make([]*input.Window, len(specs))
	for i, s := range specs {
		mask, err := parseMask(s.DontPropagate)
		if err != nil {
			return nil, fmt.Errorf("window %#x: %w", s.ID, err)
		}
		windows[i] = &input.Window{
			ID:            s.ID,
			X:             s.X,
			Y:             s.Y,
			Width:         s.Width,
			Height:        s.Height,
			Realized:      !s.Unmapped,
			DontPropagate: mask,
		}
	}
	tree := input.NewTree(windows[0])
	for i, w := range windows[1:] {
		parent := specs[i+1].Parent
		if parent == 0 {
			parent = windows[0].ID
		}
		if err := tree.Add(parent, w); err != nil {
			return nil, fmt.Errorf("window %#x: %w", w.ID, err)
		}
	}
	return tree, nil
}

// Deliver records a delivery for the expectations and passes it on.
func (r *Run) Deliver(d input.Delivery) {
	r.pending = append(r.pending, d)
	r.current = append(r.current, d)
	r.result.Deliveries++
	if r.out != nil {
		r.out.Deliver(d)
	}
}

func (r *Run) Engine() *arbiter.Engine { return r.engine }
func (r *Run) Scenario() *Scenario     { return r.sc }

// Done reports whether every step has run.
func (r *Run) Done() bool {
	return r.next >= len(r.sc.Steps)
}

// Next returns the step Step will run, or nil when done.
func (r *Run) Next() *Step {
	if r.Done() {
		return nil
	}
	return &r.sc.Steps[r.next]
}

// Step runs the next step and checks its expectations.
func (r *Run) Step() StepResult {
	st := r.Next()
	if st == nil {
		return StepResult{Index: r.next}
	}
	res := StepResult{Index: r.next + 1, Do: st.Do}
	r.next++
	r.current = nil

	err := actions[st.Do](r, st)
	if msg := checkError(st.Error, err); msg != "" {
		res.Failures = append(res.Failures, msg)
	}
	if st.Expect != nil {
		res.Failures = append(res.Failures, r.check(st.Expect)...)
		r.pending = nil
	}
	res.Deliveries = r.current
	r.result.Steps++
	if res.Failed() {
		r.result.Failed = append(r.result.Failed, res)
		log.Debug("step failed", "scenario", r.sc.Name, "step", res.Index, "do", st.Do, "failures", res.Failures)
	}
	return res
}

// Finish runs the remaining steps. With stopOnFailure it stops after the
// first failed step.
func (r *Run) Finish(stopOnFailure bool) Result {
	for !r.Done() {
		if res := r.Step(); res.Failed() && stopOnFailure {
			break
		}
	}
	return r.result
}

// Result returns the outcome so far.
func (r *Run) Result() Result {
	return r.result
}

// errorName is the name a step's Error field uses for err.
func errorName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, arbiter.ErrAlreadyGrabbed):
		return "AlreadyGrabbed"
	case errors.Is(err, arbiter.ErrFrozen):
		return "Frozen"
	case errors.Is(err, arbiter.ErrInvalidTime):
		return "InvalidTime"
	case errors.Is(err, arbiter.ErrNotViewable):
		return "NotViewable"
	}
	return status.FromError(err).String()
}

func checkError(want string, err error) string {
	got := errorName(err)
	switch {
	case got == want:
		return ""
	case want == "":
		return fmt.Sprintf("unexpected error: %v", err)
	case got == "":
		return fmt.Sprintf("expected %s, step succeeded", want)
	}
	return fmt.Sprintf("expected %s, got %s (%v)", want, got, err)
}

func (r *Run) window(id input.XID) (*input.Window, error) {
	w, ok := r.tree.Window(id)
	if !ok {
		return nil, fmt.Errorf("unknown window %#x", id)
	}
	return w, nil
}

func (r *Run) device(id input.DeviceID) (*input.Device, error) {
	d, ok := r.devices.Device(id)
	if !ok {
		return nil, fmt.Errorf("unknown device %d", id)
	}
	return d, nil
}

func parseMode(s string, def grab.Mode) (grab.Mode, error) {
	switch s {
	case "":
		return def, nil
	case "sync":
		return grab.ModeSync, nil
	case "async":
		return grab.ModeAsync, nil
	case "touch":
		return grab.ModeTouch, nil
	}
	return 0, fmt.Errorf("unknown grab mode %q", s)
}
