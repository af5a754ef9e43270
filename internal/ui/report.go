package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/grabarbiter/internal/scenario"
	"github.com/bnema/grabarbiter/internal/trace"
)

// RenderStep renders one step with its deliveries and failed checks.
func RenderStep(res scenario.StepResult) string {
	var b strings.Builder
	b.WriteString(StepStyle.Render(fmt.Sprint(res.Index)))
	b.WriteString(" ")
	b.WriteString(FormatPassFail(!res.Failed()))
	b.WriteString(" ")
	b.WriteString(ActionStyle.Render(res.Do))
	for _, d := range res.Deliveries {
		b.WriteString("\n")
		b.WriteString(DeliveryStyle.Render(IconArrow + " " + scenario.FormatDelivery(d)))
	}
	for _, f := range res.Failures {
		b.WriteString("\n")
		b.WriteString(FailureStyle.Render(f))
	}
	return b.String()
}

// RenderResult renders the summary of a scenario run.
func RenderResult(res scenario.Result) string {
	var b strings.Builder
	b.WriteString(FormatHeader(res.Name))
	b.WriteString("\n")
	for _, st := range res.Failed {
		b.WriteString(RenderStep(st))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("%d steps, %d deliveries", res.Steps, res.Deliveries)
	if res.Passed() {
		b.WriteString(SuccessStyle.Bold(true).Render(IconSuccess + " " + summary + ", all expectations met"))
	} else {
		b.WriteString(ErrorStyle.Bold(true).Render(fmt.Sprintf("%s %s, %d failed", IconError, summary, len(res.Failed))))
	}
	return b.String()
}

// RenderRecords renders a decoded trace, one delivery per line.
func RenderRecords(records []trace.Record) string {
	if len(records) == 0 {
		return SubtleStyle.Render("empty trace")
	}
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(SubtleStyle.Render(fmt.Sprintf("%6d", r.Seq)))
		b.WriteString(" ")
		b.WriteString(TextStyle.Render(scenario.FormatDelivery(r.Delivery)))
	}
	return b.String()
}
