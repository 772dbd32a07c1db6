package cpu

import "testing"

// flatMemory is a minimal 64KB RAM backing for CPU tests.
type flatMemory struct {
	ram [0x10000]uint8
}

func (m *flatMemory) Read(address uint16) uint8        { return m.ram[address] }
func (m *flatMemory) Write(address uint16, value uint8) { m.ram[address] = value }

func newTestCPU(resetPC uint16) (*CPU, *flatMemory) {
	mem := &flatMemory{}
	mem.ram[0xFFFC] = uint8(resetPC)
	mem.ram[0xFFFD] = uint8(resetPC >> 8)
	c := New(mem)
	c.Reset()
	return c, mem
}

func TestReset_ShouldLoadResetVectorAndDefaultFlags(t *testing.T) {
	c, _ := newTestCPU(0x8000)

	if c.PC != 0x8000 {
		t.Errorf("expected PC 0x8000, got 0x%04X", c.PC)
	}
	if c.SP != 0xFD {
		t.Errorf("expected SP 0xFD, got 0x%02X", c.SP)
	}
	if !c.I {
		t.Error("expected interrupt-disable flag set after reset")
	}
	if c.Cycles() != 7 {
		t.Errorf("expected 7 cycles consumed by reset sequence, got %d", c.Cycles())
	}
}

func TestSnapshotRestore_ShouldRoundTripRegisterState(t *testing.T) {
	c, _ := newTestCPU(0x8000)
	c.A, c.X, c.Y, c.SP, c.PC = 0x11, 0x22, 0x33, 0x44, 0x9000
	c.C, c.N = true, true
	c.AssertIRQ(true)

	snap := c.Snapshot()

	other, _ := newTestCPU(0x0000)
	other.Restore(snap)

	if other.A != 0x11 || other.X != 0x22 || other.Y != 0x33 || other.SP != 0x44 || other.PC != 0x9000 {
		t.Errorf("register state did not round-trip: %+v", other)
	}
	if !other.C || !other.N {
		t.Error("flag state did not round-trip")
	}
	if !other.irqLine {
		t.Error("IRQ line state did not round-trip")
	}
}

func TestAssertNMI_ShouldLatchOnlyOnFallingEdge(t *testing.T) {
	c, _ := newTestCPU(0x8000)

	c.AssertNMI(true)
	if c.nmiLatched {
		t.Error("NMI should not latch on the rising edge")
	}

	c.AssertNMI(false)
	if !c.nmiLatched {
		t.Error("NMI should latch on the falling edge")
	}
}

func TestRequestOAMDMA_ShouldMarkPending(t *testing.T) {
	c, _ := newTestCPU(0x8000)

	c.RequestOAMDMA(0x02)

	if !c.oamDMA.pending {
		t.Error("expected OAM DMA to be marked pending")
	}
	if c.oamDMA.page != 0x02 {
		t.Errorf("expected OAM DMA page 0x02, got 0x%02X", c.oamDMA.page)
	}
}
