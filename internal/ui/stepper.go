package ui

import (
	"strings"

	"github.com/bnema/grabarbiter/internal/scenario"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// visibleSteps is how many finished steps the stepper keeps on screen.
const visibleSteps = 8

type keyMap struct {
	Step key.Binding
	Run  key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Run, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Step: key.NewBinding(
		key.WithKeys("n", "enter", " "),
		key.WithHelp("n/enter", "next step"),
	),
	Run: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "run to end"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// StepFunc runs the next step of a scenario.
type StepFunc func() scenario.StepResult

// Stepper is an interactive view that runs a scenario one step at a
// time.
type Stepper struct {
	run  *scenario.Run
	step StepFunc
	keys keyMap
	help help.Model

	done     []scenario.StepResult
	width    int
	quitting bool
}

// NewStepper returns a stepper over run. Steps go through step, or
// run.Step when step is nil.
func NewStepper(run *scenario.Run, step StepFunc) *Stepper {
	if step == nil {
		step = run.Step
	}
	return &Stepper{
		run:  run,
		step: step,
		keys: keys,
		help: help.New(),
	}
}

func (s *Stepper) Init() tea.Cmd {
	return nil
}

func (s *Stepper) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, s.keys.Quit):
			s.quitting = true
			return s, tea.Quit
		case key.Matches(msg, s.keys.Step):
			if !s.run.Done() {
				s.done = append(s.done, s.step())
			}
		case key.Matches(msg, s.keys.Run):
			for !s.run.Done() {
				res := s.step()
				s.done = append(s.done, res)
				// a step that never ran cannot advance the scenario
				if res.Index == 0 {
					break
				}
			}
		}
	}
	return s, nil
}

func (s *Stepper) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(s.run.Scenario().Name))
	b.WriteString("\n\n")

	shown := s.done
	if len(shown) > visibleSteps {
		shown = shown[len(shown)-visibleSteps:]
	}
	for _, res := range shown {
		b.WriteString(RenderStep(res))
		b.WriteString("\n")
	}

	if next := s.run.Next(); next != nil {
		b.WriteString(SubtleStyle.Render(IconPending + " next: " + next.Do))
	} else {
		b.WriteString("\n")
		b.WriteString(RenderResult(s.run.Result()))
	}
	b.WriteString("\n\n")
	b.WriteString(s.help.View(s.keys))
	if s.quitting {
		b.WriteString("\n")
	}
	return b.String()
}

// Result returns the outcome of the steps run so far.
func (s *Stepper) Result() scenario.Result {
	return s.run.Result()
}

// Steps returns every step run so far.
func (s *Stepper) Steps() []scenario.StepResult {
	return s.done
}
