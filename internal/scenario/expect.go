package scenario

import (
	"fmt"

	"github.com/bnema/grabarbiter/internal/input"
)

// FormatDelivery renders a delivery on one line.
func FormatDelivery(d input.Delivery) string {
	s := fmt.Sprintf("%s to client %d on %#x (%s)", d.Event.Type, d.Client, uint32(d.Window), d.Level)
	if d.Grab != 0 {
		s += fmt.Sprintf(" via grab %#x", uint32(d.Grab))
	}
	return s
}

func (r *Run) check(x *Expect) []string {
	var out []string
	out = append(out, r.checkDeliveries(x)...)
	e := r.engine

	for _, id := range x.Frozen {
		dev, err := r.device(id)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		if !e.Store().Slot(dev).Frozen() {
			out = append(out, fmt.Sprintf("device %d is not frozen", id))
		}
	}
	for _, id := range x.Thawed {
		dev, err := r.device(id)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		if slot := e.Store().Slot(dev); slot.Frozen() {
			out = append(out, fmt.Sprintf("device %d is frozen (%s)", id, slot.Sync))
		}
	}

	for _, gs := range x.Grabs {
		dev, err := r.device(gs.Device)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		slot := e.Store().Slot(dev)
		g := slot.Grab
		switch {
		case gs.Client == 0 && g != nil:
			out = append(out, fmt.Sprintf("device %d grabbed by client %d", gs.Device, g.Client()))
		case gs.Client == 0:
		case g == nil:
			out = append(out, fmt.Sprintf("device %d not grabbed, want client %d", gs.Device, gs.Client))
		case g.Client() != gs.Client:
			out = append(out, fmt.Sprintf("device %d grabbed by client %d, want %d", gs.Device, g.Client(), gs.Client))
		case gs.Window != 0 && g.Window.ID != gs.Window:
			out = append(out, fmt.Sprintf("device %d grab on %#x, want %#x", gs.Device, uint32(g.Window.ID), uint32(gs.Window)))
		case gs.Origin != "" && slot.Origin.String() != gs.Origin:
			out = append(out, fmt.Sprintf("device %d grab is %s, want %s", gs.Device, slot.Origin, gs.Origin))
		}
	}

	for _, ps := range x.Passive {
		n := 0
		if w, ok := r.tree.Window(ps.Window); ok {
			n = len(e.Store().PassiveGrabs(w))
		}
		if n != ps.Count {
			out = append(out, fmt.Sprintf("window %#x has %d passive grabs, want %d", uint32(ps.Window), n, ps.Count))
		}
	}

	for _, own := range x.Owners {
		dev, err := r.device(own.Device)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		var owner input.ClientID
		if pt := e.Touches().FindByClientID(dev, own.Touch); pt != nil && pt.Owner() != nil {
			owner = pt.Owner().Client()
		}
		if owner != own.Client {
			out = append(out, fmt.Sprintf("touch %d on device %d owned by client %d, want %d", own.Touch, own.Device, owner, own.Client))
		}
	}

	for _, ts := range x.Touches {
		dev, err := r.device(ts.Device)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		if n := len(e.Touches().Points(dev)); n != ts.Count {
			out = append(out, fmt.Sprintf("device %d has %d touches, want %d", ts.Device, n, ts.Count))
		}
	}

	if x.LiveGrabs != nil {
		if n := e.Store().Live(); n != *x.LiveGrabs {
			out = append(out, fmt.Sprintf("%d live grabs, want %d", n, *x.LiveGrabs))
		}
	}
	return out
}

func (r *Run) checkDeliveries(x *Expect) []string {
	if x.NoDeliveries && len(r.pending) > 0 {
		return []string{fmt.Sprintf("expected no deliveries, got %d; first: %s", len(r.pending), FormatDelivery(r.pending[0]))}
	}
	if x.Deliveries == nil {
		return nil
	}
	var out []string
	for i, want := range x.Deliveries {
		if i >= len(r.pending) {
			out = append(out, fmt.Sprintf("delivery %d missing: %s to client %d", i+1, want.Type, want.Client))
			continue
		}
		if msg := matchDelivery(want, r.pending[i]); msg != "" {
			out = append(out, fmt.Sprintf("delivery %d: %s", i+1, msg))
		}
	}
	for _, extra := range r.pending[min(len(r.pending), len(x.Deliveries)):] {
		out = append(out, "unexpected delivery: "+FormatDelivery(extra))
	}
	return out
}

func matchDelivery(want DeliverySpec, got input.Delivery) string {
	if got.Client != want.Client || got.Event.Type.String() != want.Type {
		return fmt.Sprintf("got %s, want %s to client %d", FormatDelivery(got), want.Type, want.Client)
	}
	if want.Window != 0 && got.Window != want.Window {
		return fmt.Sprintf("got %s, want window %#x", FormatDelivery(got), uint32(want.Window))
	}
	if want.Level != "" && got.Level.String() != want.Level {
		return fmt.Sprintf("got %s, want level %s", FormatDelivery(got), want.Level)
	}
	if want.Detail != nil && got.Event.Detail != *want.Detail {
		return fmt.Sprintf("got detail %d, want %d", got.Event.Detail, *want.Detail)
	}
	return ""
}
