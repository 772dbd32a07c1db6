// Package bus implements the system bus for communication between NES components.
package bus

import (
	"github.com/example/gones-nes/internal/apu"
	"github.com/example/gones-nes/internal/cartridge"
	"github.com/example/gones-nes/internal/cpu"
	"github.com/example/gones-nes/internal/input"
	"github.com/example/gones-nes/internal/memory"
	"github.com/example/gones-nes/internal/ppu"
)

// cyclesPerFrame is the fixed NTSC CPU-cycle frame length the emulator
// targets: 29,781 CPU cycles (89,342 PPU dots / 3, rounded to the nearest
// whole CPU cycle boundary most emulators settle on for frame pacing).
const cyclesPerFrame = 29781

// Bus ties the CPU, PPU, APU, cartridge, and input together and drives them
// at the NES's fixed 1 CPU : 3 PPU : 1 APU cycle ratio.
type Bus struct {
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	cart *cartridge.Cartridge

	cpuCycles  uint64
	frameCount uint64
}

// New creates a system bus with all components wired together but no
// cartridge loaded.
func New() *Bus {
	bus := &Bus{
		PPU:   ppu.New(),
		APU:   apu.New(),
		Input: input.NewInputState(),
	}

	bus.Memory = memory.New(bus.PPU, bus.APU, nil)
	bus.Memory.SetInputSystem(bus.Input)
	bus.APU.SetMemory(bus.Memory)

	bus.CPU = cpu.New(bus.Memory)
	bus.CPU.SetOAMTarget(bus.PPU)
	bus.APU.SetCPUStaller(bus.CPU)

	bus.PPU.SetNMICallback(bus.triggerNMI)
	bus.PPU.SetFrameCompleteCallback(bus.handleFrameComplete)
	bus.PPU.SetScanlineIRQCallback(bus.tickMapperScanlineIRQ)
	bus.Memory.SetDMACallback(bus.CPU.RequestOAMDMA)

	bus.Reset()
	return bus
}

// Reset resets every component to its power-up/reset state.
func (b *Bus) Reset() {
	b.CPU.Reset()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()
	b.cpuCycles = 0
	b.frameCount = 0
	b.PPU.SetFrameCount(0)
}

// triggerNMI is called by the PPU the instant it enters VBlank with NMI
// generation enabled. The CPU's NMI line is edge-triggered, so pulsing it
// high then low within this single call produces the falling edge the CPU
// latches on.
func (b *Bus) triggerNMI() {
	b.CPU.AssertNMI(true)
	b.CPU.AssertNMI(false)
}

func (b *Bus) handleFrameComplete() {
	b.frameCount = b.PPU.GetFrameCount()
}

// tickMapperScanlineIRQ is the PPU's per-scanline IRQ callback; it clocks
// an IRQ-capable mapper's scanline counter (MMC3) once per visible line.
func (b *Bus) tickMapperScanlineIRQ() {
	if b.cart != nil {
		b.cart.ScanlineTick()
	}
}

// Tick advances every component by exactly one CPU cycle (3 PPU dots, 1 APU
// clock), per the NES's fixed clock ratio.
func (b *Bus) Tick() {
	b.PPU.Tick()
	b.PPU.Tick()
	b.PPU.Tick()

	b.syncIRQLine()
	b.CPU.Tick()
	b.APU.Step()

	b.cpuCycles++
}

// syncIRQLine ORs together every source that can hold the CPU's level-
// triggered IRQ line: the APU frame sequencer, its DMC channel, and an
// IRQ-capable mapper (MMC3's scanline counter) once one is loaded.
func (b *Bus) syncIRQLine() {
	mapperIRQ := b.cart != nil && b.cart.IRQPending()
	b.CPU.AssertIRQ(b.APU.GetFrameIRQ() || b.APU.GetDMCIRQ() || mapperIRQ)
}

// LoadCartridge installs a cartridge, rebuilding the memory maps and PPU
// nametable mirroring that depend on it.
func (b *Bus) LoadCartridge(cart memory.CartridgeInterface) {
	b.Memory = memory.New(b.PPU, b.APU, cart)
	b.Memory.SetInputSystem(b.Input)
	b.APU.SetMemory(b.Memory)

	b.CPU = cpu.New(b.Memory)
	b.CPU.SetOAMTarget(b.PPU)
	b.APU.SetCPUStaller(b.CPU)

	mirrorMode := memory.MirrorHorizontal
	b.cart, _ = cart.(*cartridge.Cartridge)
	if c, ok := cart.(*cartridge.Cartridge); ok {
		switch c.GetMirrorMode() {
		case cartridge.MirrorHorizontal:
			mirrorMode = memory.MirrorHorizontal
		case cartridge.MirrorVertical:
			mirrorMode = memory.MirrorVertical
		case cartridge.MirrorSingleScreen0:
			mirrorMode = memory.MirrorSingleScreen0
		case cartridge.MirrorSingleScreen1:
			mirrorMode = memory.MirrorSingleScreen1
		case cartridge.MirrorFourScreen:
			mirrorMode = memory.MirrorFourScreen
		}
	}

	b.PPU.SetMemory(memory.NewPPUMemory(cart, mirrorMode))
	b.PPU.SetNMICallback(b.triggerNMI)
	b.PPU.SetScanlineIRQCallback(b.tickMapperScanlineIRQ)
	b.Memory.SetDMACallback(b.CPU.RequestOAMDMA)

	b.CPU.Reset()
}

// Frame runs the emulator for exactly one NTSC frame (29,781 CPU cycles).
func (b *Bus) Frame() {
	target := b.cpuCycles + cyclesPerFrame
	for b.cpuCycles < target {
		b.Tick()
	}
}

// Run runs the emulator for the given number of frames.
func (b *Bus) Run(frames int) {
	targetFrames := b.frameCount + uint64(frames)
	for b.frameCount < targetFrames {
		b.Frame()
	}
}

// RunCycles runs the emulator for the given number of CPU cycles.
func (b *Bus) RunCycles(cycles uint64) {
	target := b.cpuCycles + cycles
	for b.cpuCycles < target {
		b.Tick()
	}
}

// GetFrameBuffer returns the current PPU frame buffer as a flat RGB slice.
func (b *Bus) GetFrameBuffer() []uint32 {
	fb := b.PPU.GetFrameBuffer()
	return fb[:]
}

// GetAudioSamples returns (and drains) the APU's pending audio samples.
func (b *Bus) GetAudioSamples() []float32 {
	return b.APU.GetSamples()
}

// SetAudioSampleRate sets the APU's target output sample rate.
func (b *Bus) SetAudioSampleRate(rate int) {
	b.APU.SetSampleRate(rate)
}

// GetCycleCount returns the total CPU cycles elapsed since Reset.
func (b *Bus) GetCycleCount() uint64 { return b.cpuCycles }

// GetFrameCount returns the total frames completed since Reset.
func (b *Bus) GetFrameCount() uint64 { return b.frameCount }

// SetControllerButton sets a single button's pressed state on a controller
// port (1 or 2; 0 is treated as controller 1 for caller convenience).
func (b *Bus) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1:
		b.Input.Controller1.SetButton(button, pressed)
	case 2:
		b.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons sets all 8 button states on a controller port at once.
func (b *Bus) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		b.Input.SetButtons1(buttons)
	case 2:
		b.Input.SetButtons2(buttons)
	}
}

// GetInputState returns the input state for direct access.
func (b *Bus) GetInputState() *input.InputState { return b.Input }

// GetCartridge returns the loaded cartridge, or nil if none is loaded.
// Save-state code uses this to reach the battery-backed PRG-RAM.
func (b *Bus) GetCartridge() *cartridge.Cartridge { return b.cart }

// GetCPUState returns a snapshot of CPU registers and flags, for tests and
// front-end debug views.
func (b *Bus) GetCPUState() CPUState {
	return CPUState{
		PC:     b.CPU.PC,
		A:      b.CPU.A,
		X:      b.CPU.X,
		Y:      b.CPU.Y,
		SP:     b.CPU.SP,
		Cycles: b.cpuCycles,
		Flags: CPUFlags{
			N: b.CPU.N,
			V: b.CPU.V,
			B: b.CPU.B,
			D: b.CPU.D,
			I: b.CPU.I,
			Z: b.CPU.Z,
			C: b.CPU.C,
		},
	}
}

// CPUState is a point-in-time snapshot of CPU registers and flags.
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags is a point-in-time snapshot of the processor status flags.
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetPPUState returns a snapshot of PPU timing and status, for tests and
// front-end debug views.
func (b *Bus) GetPPUState() PPUState {
	return PPUState{
		Scanline:    b.PPU.GetScanline(),
		Cycle:       b.PPU.GetCycle(),
		FrameCount:  b.frameCount,
		VBlankFlag:  b.PPU.IsVBlank(),
		RenderingOn: b.PPU.IsRenderingEnabled(),
	}
}

// PPUState is a point-in-time snapshot of PPU timing and status.
type PPUState struct {
	Scanline    int
	Cycle       int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
}
