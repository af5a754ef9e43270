package ui

import (
	"strings"
	"testing"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/scenario"
	"github.com/bnema/grabarbiter/internal/trace"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
name: two grabs
devices:
  - {id: 2, use: master-pointer, attached: 3, buttons: true}
  - {id: 3, use: master-keyboard, attached: 2, keys: true}
windows:
  - {id: 0x100, width: 1000, height: 1000}
  - {id: 0x200001, x: 100, y: 100, width: 500, height: 500}
steps:
  - do: grab-button
    client: 1
    device: 2
    window: 0x200001
    detail: 1
    modifiers: any
  - do: event
    type: ButtonPress
    device: 2
    detail: 1
    x: 250
    y: 250
  - do: expect
    expect:
      grabs: [{device: 2, client: 7}]
`

func newRun(t *testing.T) *scenario.Run {
	t.Helper()
	sc, err := scenario.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	run, err := scenario.New(sc, arbiter.DefaultOptions(), nil)
	require.NoError(t, err)
	return run
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRenderStep(t *testing.T) {
	res := scenario.StepResult{
		Index: 4,
		Do:    "event",
		Deliveries: []input.Delivery{{
			Client: 1,
			Window: 0x200001,
			Level:  input.Core,
			Event:  input.Event{Type: input.ButtonPress},
		}},
		Failures: []string{"device 2 is not frozen"},
	}
	out := RenderStep(res)
	assert.Contains(t, out, "4")
	assert.Contains(t, out, IconError)
	assert.Contains(t, out, "event")
	assert.Contains(t, out, "ButtonPress to client 1 on 0x200001 (core)")
	assert.Contains(t, out, "device 2 is not frozen")

	res.Failures = nil
	assert.Contains(t, RenderStep(res), IconSuccess)
}

func TestRenderResult(t *testing.T) {
	t.Run("passed", func(t *testing.T) {
		out := RenderResult(scenario.Result{Name: "ok", Steps: 3, Deliveries: 2})
		assert.Contains(t, out, "ok")
		assert.Contains(t, out, "3 steps, 2 deliveries, all expectations met")
	})

	t.Run("failed", func(t *testing.T) {
		out := RenderResult(scenario.Result{
			Name:   "bad",
			Steps:  3,
			Failed: []scenario.StepResult{{Index: 2, Do: "expect", Failures: []string{"nope"}}},
		})
		assert.Contains(t, out, "expect")
		assert.Contains(t, out, "nope")
		assert.Contains(t, out, "1 failed")
	})
}

func TestRenderRecords(t *testing.T) {
	assert.Contains(t, RenderRecords(nil), "empty trace")

	out := RenderRecords([]trace.Record{
		{Seq: 1, Delivery: input.Delivery{Client: 1, Window: 0x100, Level: input.XI2, Event: input.Event{Type: input.TouchBegin}}},
		{Seq: 2, Delivery: input.Delivery{Client: 2, Window: 0x100, Grab: 0x400002, Level: input.XI2, Event: input.Event{Type: input.TouchEnd}}},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "TouchBegin to client 1")
	assert.Contains(t, lines[1], "via grab 0x400002")
}

func TestStepper(t *testing.T) {
	t.Run("steps one at a time", func(t *testing.T) {
		s := NewStepper(newRun(t), nil)
		assert.Nil(t, s.Init())
		assert.Contains(t, s.View(), "next: grab-button")

		_, cmd := s.Update(keyMsg("n"))
		assert.Nil(t, cmd)
		require.Len(t, s.Steps(), 1)
		assert.Contains(t, s.View(), "next: event")

		s.Update(keyMsg("enter"))
		require.Len(t, s.Steps(), 2)
		assert.Len(t, s.Steps()[1].Deliveries, 1)
	})

	t.Run("runs to the end", func(t *testing.T) {
		s := NewStepper(newRun(t), nil)
		s.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
		s.Update(keyMsg("r"))
		assert.Len(t, s.Steps(), 3)
		assert.False(t, s.Result().Passed())

		view := s.View()
		assert.Contains(t, view, "want 7")
		assert.Contains(t, view, "1 failed")

		// nothing left to run
		s.Update(keyMsg("n"))
		assert.Len(t, s.Steps(), 3)
	})

	t.Run("custom step function", func(t *testing.T) {
		run := newRun(t)
		calls := 0
		s := NewStepper(run, func() scenario.StepResult {
			calls++
			return run.Step()
		})
		s.Update(keyMsg("r"))
		assert.Equal(t, 3, calls)
	})

	t.Run("quit", func(t *testing.T) {
		s := NewStepper(newRun(t), nil)
		_, cmd := s.Update(keyMsg("q"))
		require.NotNil(t, cmd)
		assert.Equal(t, tea.QuitMsg{}, cmd())
		assert.Empty(t, s.Steps())
	})
}
