package grab

import "github.com/bnema/grabarbiter/internal/input"

// inMask reports whether the wildcard criterion first covers second.
// When both are wildcards, first covers second if second excludes at
// least everything first excludes.
func inMask(first, second Detail, exception uint32) bool {
	if first.Exact != exception {
		return false
	}
	if first.Exclude == nil {
		return true
	}
	if second.Exact == exception {
		if second.Exclude == nil {
			return first.Exclude.None()
		}
		return second.Exclude.IsSuperSet(first.Exclude)
	}
	return !first.Exclude.Test(uint(second.Exact))
}

func identicalExact(first, second, exception uint32) bool {
	if first == exception || second == exception {
		return false
	}
	return first == second
}

func detailSupersedes(first, second Detail, exception uint32) bool {
	return inMask(first, second, exception) || identicalExact(first.Exact, second.Exact, exception)
}

// Supersedes reports whether a's criteria cover everything b's do.
func Supersedes(a, b *Grab) bool {
	if !detailSupersedes(a.Modifiers, b.Modifiers, a.AnyModifier()) {
		return false
	}
	return detailSupersedes(a.Detail, b.Detail, AnyKey)
}

func sameDevice(a, b *input.Device) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func isMasterOrAll(d *input.Device) bool {
	return d != nil && (d.ID == input.AllMasterDevices || d.IsMaster())
}

func devicesMatch(a, b *Grab, ignoreDevice bool) bool {
	if a.Kind == input.XI2 {
		switch {
		case a.Device.ID == input.AllDevices || b.Device.ID == input.AllDevices:
			return true
		case a.Device.ID == input.AllMasterDevices:
			return isMasterOrAll(b.Device)
		case b.Device.ID == input.AllMasterDevices:
			return isMasterOrAll(a.Device)
		}
		return sameDevice(a.Device, b.Device)
	}
	if ignoreDevice {
		return true
	}
	return sameDevice(a.Device, b.Device) && sameDevice(a.ModifierDevice, b.ModifierDevice)
}

// Matches reports whether a and b could both claim some event. Core and
// XI grabs must name the same devices unless ignoreDevice is set; XI2
// grabs honour the AllDevices and AllMasterDevices pseudo devices.
func Matches(a, b *Grab, ignoreDevice bool) bool {
	if a.Kind != b.Kind {
		return false
	}
	if !devicesMatch(a, b, ignoreDevice) {
		return false
	}
	if a.Type != b.Type {
		return false
	}
	if Supersedes(a, b) || Supersedes(b, a) {
		return true
	}
	anyMod := a.AnyModifier()
	if detailSupersedes(b.Detail, a.Detail, AnyKey) && detailSupersedes(a.Modifiers, b.Modifiers, anyMod) {
		return true
	}
	return detailSupersedes(a.Detail, b.Detail, AnyKey) && detailSupersedes(b.Modifiers, a.Modifiers, anyMod)
}

// Identical reports whether a and b claim exactly the same events.
func Identical(a, b *Grab) bool {
	if a.Kind != b.Kind {
		return false
	}
	if !sameDevice(a.Device, b.Device) || !sameDevice(a.ModifierDevice, b.ModifierDevice) {
		return false
	}
	if a.Type != b.Type {
		return false
	}
	if !detailSupersedes(a.Detail, b.Detail, AnyKey) || !detailSupersedes(b.Detail, a.Detail, AnyKey) {
		return false
	}
	anyMod := a.AnyModifier()
	return detailSupersedes(a.Modifiers, b.Modifiers, anyMod) && detailSupersedes(b.Modifiers, a.Modifiers, anyMod)
}
