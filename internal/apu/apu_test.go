package apu

import "testing"

func TestNew_ShouldDefaultToFourStepModeWithIRQEnabled(t *testing.T) {
	a := New()

	if a.frameMode {
		t.Error("expected 4-step frame mode by default")
	}
	if !a.frameIRQEnable {
		t.Error("expected frame IRQ enabled by default")
	}
}

func TestWriteRegister_PulseDuty_ShouldSetDutyAndVolume(t *testing.T) {
	a := New()

	a.WriteRegister(0x4000, 0xBF) // duty=2, halt/loop=1, disable=1, volume=0xF

	if a.pulse1.dutyCycle != 2 {
		t.Errorf("expected duty cycle 2, got %d", a.pulse1.dutyCycle)
	}
	if a.pulse1.volume != 0x0F {
		t.Errorf("expected volume 0x0F, got 0x%X", a.pulse1.volume)
	}
	if !a.pulse1.envelopeDisable {
		t.Error("expected constant-volume flag set")
	}
}

func TestSnapshotRestore_ShouldRoundTripChannelAndFrameState(t *testing.T) {
	a := New()
	a.WriteRegister(0x4000, 0xBF)
	a.pulse1.timerCounter = 123
	a.triangle.linearCounter = 42
	a.noise.shiftRegister = 0x4000
	a.frameCounter = 999
	a.cycles = 55555

	snap := a.Snapshot()

	other := New()
	other.Restore(snap)

	if other.pulse1.dutyCycle != 2 || other.pulse1.volume != 0x0F {
		t.Error("pulse1 control state did not round-trip")
	}
	if other.pulse1.timerCounter != 123 {
		t.Errorf("expected pulse1 timerCounter 123, got %d", other.pulse1.timerCounter)
	}
	if other.triangle.linearCounter != 42 {
		t.Errorf("expected triangle linearCounter 42, got %d", other.triangle.linearCounter)
	}
	if other.noise.shiftRegister != 0x4000 {
		t.Errorf("expected noise shiftRegister 0x4000, got 0x%04X", other.noise.shiftRegister)
	}
	if other.frameCounter != 999 {
		t.Errorf("expected frameCounter 999, got %d", other.frameCounter)
	}
	if other.cycles != 55555 {
		t.Errorf("expected cycles 55555, got %d", other.cycles)
	}
}

// fakeMemory is a minimal MemoryReader that returns the low byte of the
// address it is given, so distinct addresses within a page read back
// distinct bytes.
type fakeMemory struct{}

func (fakeMemory) Read(address uint16) uint8 { return uint8(address) }

// fakeStaller records every AddDMCStall call it receives.
type fakeStaller struct{ stalls int }

func (f *fakeStaller) AddDMCStall(cycles int) { f.stalls += cycles }

func TestStepDMCTimer_ShouldFetchSampleByteAndStallCPU(t *testing.T) {
	a := New()
	mem := fakeMemory{}
	staller := &fakeStaller{}
	a.SetMemory(mem)
	a.SetCPUStaller(staller)

	a.dmc.rateIndex = 0
	a.dmc.sampleAddress = 0xC000
	a.dmc.currentAddress = 0xC001
	a.dmc.sampleLength = 2
	a.dmc.bytesRemaining = 2
	// sampleBufferEmpty stays false (its zero value): the output unit
	// hasn't loaded anything into sampleBufferBits yet, which is exactly
	// what makes the very first fetch fire below.
	a.dmc.sampleBufferBits = 0
	a.dmc.timerCounter = 0

	a.stepDMCTimer(&a.dmc)

	if a.dmc.sampleBuffer != 0x01 {
		t.Errorf("expected sample buffer fetched from address 0xC001 (0x01), got 0x%02X", a.dmc.sampleBuffer)
	}
	if a.dmc.sampleBufferEmpty {
		t.Error("expected sample buffer marked non-empty after a successful fetch")
	}
	if a.dmc.currentAddress != 0xC002 {
		t.Errorf("expected current address to advance to 0xC002, got 0x%04X", a.dmc.currentAddress)
	}
	if staller.stalls != 4 {
		t.Errorf("expected a 4-cycle CPU stall per DMC sample fetch, got %d", staller.stalls)
	}
}

func TestStepDMCTimer_AddressShouldWrapTo8000(t *testing.T) {
	a := New()
	a.SetMemory(fakeMemory{})
	a.SetCPUStaller(&fakeStaller{})

	a.dmc.currentAddress = 0xFFFF
	a.dmc.bytesRemaining = 2
	a.dmc.sampleBufferBits = 0
	a.dmc.timerCounter = 0

	a.stepDMCTimer(&a.dmc)

	if a.dmc.currentAddress != 0x8000 {
		t.Errorf("expected DMC address to wrap from 0xFFFF to 0x8000, got 0x%04X", a.dmc.currentAddress)
	}
}

func TestOutputFilter_ShouldAttenuateDCOffset(t *testing.T) {
	f := newOutputFilter(44100)

	var last float32
	for i := 0; i < 10000; i++ {
		last = f.apply(1.0)
	}

	if last > 0.05 {
		t.Errorf("expected the high-pass stages to drive a sustained DC input toward 0, got %f", last)
	}
}
