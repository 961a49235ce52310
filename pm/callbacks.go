package pm

import "context"

// Callback is a structured power management callback for one phase.
type Callback func(ctx context.Context, dev *Device) error

// LegacySuspendCallback is the older single-entry suspend form. It receives
// the message instead of having one callback per phase.
type LegacySuspendCallback func(ctx context.Context, dev *Device, msg Message) error

// Ops is the structured set of callbacks a tier provides. Any field may be
// nil, in which case the tier has nothing to do for that phase.
type Ops struct {
	Prepare     Callback
	Suspend     Callback
	SuspendLate Callback
	ResumeEarly Callback
	Resume      Callback
	Complete    Callback
}

func (o *Ops) callback(p Phase) Callback {
	switch p {
	case PhasePrepare:
		return o.Prepare
	case PhaseSuspend:
		return o.Suspend
	case PhaseSuspendLate:
		return o.SuspendLate
	case PhaseResumeEarly:
		return o.ResumeEarly
	case PhaseResume:
		return o.Resume
	case PhaseComplete:
		return o.Complete
	}
	return nil
}

// TierOps is what one tier (class, type or bus) provides for a device.
//
// When PM is set the legacy functions are ignored. Legacy functions are only
// consulted for the suspend and resume phases.
type TierOps struct {
	PM *Ops

	Suspend LegacySuspendCallback
	Resume  Callback
}

// Callbacks is the capability bundle of a device. A nil tier is absent.
// The bundle is owned by the caller; the controller only reads it.
type Callbacks struct {
	Class *TierOps
	Type  *TierOps
	Bus   *TierOps
}

func (c Callbacks) tier(t Tier) *TierOps {
	switch t {
	case TierClass:
		return c.Class
	case TierType:
		return c.Type
	case TierBus:
		return c.Bus
	}
	return nil
}

// tierOrder lists, per phase, the order in which tiers are invoked.
var tierOrder = [phaseCount][]Tier{
	PhasePrepare:     {TierBus, TierType, TierClass},
	PhaseSuspend:     {TierClass, TierType, TierBus},
	PhaseSuspendLate: {TierClass, TierType, TierBus},
	PhaseResumeEarly: {TierBus, TierType, TierClass},
	PhaseResume:      {TierBus, TierType, TierClass},
	PhaseComplete:    {TierClass, TierType, TierBus},
}

// step is one resolved entry of a dispatch plan.
type step struct {
	tier          Tier
	legacy        bool
	callback      Callback
	legacySuspend LegacySuspendCallback
}

func (s step) invoke(ctx context.Context, dev *Device, msg Message) error {
	if s.legacySuspend != nil {
		return s.legacySuspend(ctx, dev, msg)
	}
	return s.callback(ctx, dev)
}

// plan holds the resolved dispatch steps for every phase.
type plan [phaseCount][]step

// resolvePlan turns a capability bundle into per-phase dispatch steps.
// Tiers with nothing to do for a phase produce no step.
func resolvePlan(cbs Callbacks) plan {
	var p plan
	for ph := Phase(0); int(ph) < phaseCount; ph++ {
		for _, t := range tierOrder[ph] {
			ops := cbs.tier(t)
			if ops == nil {
				continue
			}
			if ops.PM != nil {
				if cb := ops.PM.callback(ph); cb != nil {
					p[ph] = append(p[ph], step{tier: t, callback: cb})
				}
				continue
			}
			switch {
			case ph == PhaseSuspend && ops.Suspend != nil:
				p[ph] = append(p[ph], step{tier: t, legacy: true, legacySuspend: ops.Suspend})
			case ph == PhaseResume && ops.Resume != nil:
				p[ph] = append(p[ph], step{tier: t, legacy: true, callback: ops.Resume})
			}
		}
	}
	return p
}
