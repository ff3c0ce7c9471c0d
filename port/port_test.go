package port

import "testing"

func TestCapNoneIgnoresSetPriority(t *testing.T) {
	p := NewPort("x", Input, CapNone)
	p.setPriority(ModeOverride, 150)
	if p.PriorityMode() != ModeInherit || p.EffectivePriority() != 100 {
		t.Fatalf("CapNone port must ignore priority changes: mode=%v effective=%d", p.PriorityMode(), p.EffectivePriority())
	}
}

func TestCapStaticForcesInheritMode(t *testing.T) {
	p := NewPort("x", Input, CapStatic)
	p.setPriority(ModeOverride, 150)
	if p.PriorityMode() != ModeInherit {
		t.Fatalf("CapStatic must force mode back to inherit, got %v", p.PriorityMode())
	}
	if p.PriorityValue() != 150 {
		t.Fatalf("CapStatic must still accept the value, got %d", p.PriorityValue())
	}
}

func TestCapFullAcceptsModeAndValue(t *testing.T) {
	p := NewPort("x", Input, CapFull)
	p.setPriority(ModeOverride, 150)
	if p.PriorityMode() != ModeOverride || p.EffectivePriority() != 150 {
		t.Fatalf("CapFull must accept both mode and value: mode=%v effective=%d", p.PriorityMode(), p.EffectivePriority())
	}
}

func TestPriorityValueClamped(t *testing.T) {
	p := NewPort("x", Input, CapFull)
	p.setPriority(ModeOverride, 255)
	if p.PriorityValue() != 200 {
		t.Fatalf("priority value must clamp to 200, got %d", p.PriorityValue())
	}
}
