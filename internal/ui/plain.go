package ui

import (
	"errors"
	"fmt"
	"io"

	"nearminter/internal/mint"
)

// PlainRenderer prints workflow transitions as lines, for pipes and CI.
type PlainRenderer struct {
	Out io.Writer
}

func (p *PlainRenderer) Render(ev mint.Event) {
	switch ev.State {
	case mint.Succeeded:
		if ev.Outcome != nil {
			fmt.Fprintln(p.Out, FormatSuccess(fmt.Sprintf("%s: token %s, transaction %s",
				StepLabel(ev.State.String()), ev.Outcome.TokenID, ev.Outcome.TransactionHash)))
			return
		}
		fmt.Fprintln(p.Out, FormatSuccess(StepLabel(ev.State.String())))
	case mint.Failed:
		fmt.Fprintln(p.Out, FormatError(failureMessage(ev.Err)))
	case mint.Idle:
		if ev.Err != nil {
			fmt.Fprintln(p.Out, FormatWarning(failureMessage(ev.Err)))
		}
	default:
		fmt.Fprintln(p.Out, FormatInfo(StepLabel(ev.State.String())+"..."))
	}
}

// Follow renders events until the channel closes.
func (p *PlainRenderer) Follow(ch <-chan mint.Event) {
	for ev := range ch {
		p.Render(ev)
	}
}

func failureMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var mintErr *mint.Error
	if errors.As(err, &mintErr) {
		return mintErr.Message()
	}
	return err.Error()
}
