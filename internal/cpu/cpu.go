// Package cpu implements the 6502 CPU emulation for the NES.
package cpu

// Addressing modes
type AddressingMode int

const (
	Implied AddressingMode = iota
	Accumulator
	Immediate
	ZeroPage
	ZeroPageX
	ZeroPageY
	Relative
	Absolute
	AbsoluteX
	AbsoluteY
	Indirect
	IndexedIndirect // (zp,X)
	IndirectIndexed // (zp),Y
)

const (
	stackBase = 0x0100

	nFlagMask  = 0x80
	vFlagMask  = 0x40
	unusedMask = 0x20
	bFlagMask  = 0x10
	dFlagMask  = 0x08
	iFlagMask  = 0x04
	zFlagMask  = 0x02
	cFlagMask  = 0x01

	zeroPageMask = 0xFF
	pageMask     = 0xFF00

	nmiVector   = 0xFFFA
	irqVector   = 0xFFFE
	resetVector = 0xFFFC
)

// Instruction describes one opcode's static shape.
type Instruction struct {
	Name   string
	Opcode uint8
	Bytes  uint8
	Cycles uint8
	Mode   AddressingMode
}

// MemoryInterface is the bus contract the CPU reads and writes through.
type MemoryInterface interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
}

// TraceEvent names a point of interest the CPU reports to an installed
// Tracer. It replaces ad hoc debug printf calls with a single structured
// hook that is a no-op unless a tracer is attached.
type TraceEvent struct {
	Kind string // "instruction", "nmi", "irq", "halt"
	PC   uint16
	Name string
}

// Tracer receives CPU trace events. Installed only by the debug front end;
// the core never depends on one being present.
type Tracer interface {
	Trace(TraceEvent)
}

type oamDMAState struct {
	pending bool
	active  bool
	page    uint8
}

// CPU emulates the NMOS 6502 at instruction granularity, exposed through a
// per-master-cycle Tick so callers can interleave it with PPU/APU ticks at
// the spec's fixed 1:3:1 ratio. A multi-cycle instruction executes its
// effect on the tick that reaches the instruction boundary and then
// "coasts" for its remaining cycles via waitCycles, so the effect never
// fires twice and the cycle count observed from outside is still correct.
type CPU struct {
	A  uint8
	X  uint8
	Y  uint8
	SP uint8
	PC uint16

	C bool
	Z bool
	I bool
	D bool
	B bool
	V bool
	N bool

	memory MemoryInterface
	tracer Tracer

	cycles uint64

	instructions [256]*Instruction

	waitCycles int

	nmiLine    bool
	nmiLatched bool
	irqLine    bool

	oamDMA    oamDMAState
	oamTarget OAMWriter
	dmcStall  int

	halted bool
}

// New creates a new CPU instance.
func New(memory MemoryInterface) *CPU {
	cpu := &CPU{
		memory: memory,
		SP:     0xFD,
	}
	cpu.initInstructions()
	return cpu
}

// SetTracer installs (or clears, with nil) a trace sink.
func (cpu *CPU) SetTracer(t Tracer) {
	cpu.tracer = t
}

func (cpu *CPU) trace(kind string, name string) {
	if cpu.tracer != nil {
		cpu.tracer.Trace(TraceEvent{Kind: kind, PC: cpu.PC, Name: name})
	}
}

// Reset performs the 6502 reset sequence: 5 dummy reads at the current PC
// followed by the two reset-vector reads, totaling 7 cycles.
func (cpu *CPU) Reset() {
	cpu.A = 0x00
	cpu.X = 0x00
	cpu.Y = 0x00
	cpu.SP = 0xFD

	cpu.C = false
	cpu.Z = false
	cpu.I = true
	cpu.D = false
	cpu.B = true
	cpu.V = false
	cpu.N = false

	cpu.waitCycles = 0
	cpu.oamDMA = oamDMAState{}
	cpu.dmcStall = 0
	cpu.halted = false
	cpu.nmiLatched = false

	for i := 0; i < 5; i++ {
		cpu.memory.Read(cpu.PC)
		cpu.cycles++
	}

	low := uint16(cpu.memory.Read(resetVector))
	high := uint16(cpu.memory.Read(resetVector + 1))
	cpu.PC = (high << 8) | low
	cpu.cycles += 2
}

// AssertNMI sets the NMI line. NMI is edge-triggered: the latch fires on a
// high-to-low transition, matching the 6502's actual NMI pin behavior.
func (cpu *CPU) AssertNMI(state bool) {
	if cpu.nmiLine && !state {
		cpu.nmiLatched = true
	}
	cpu.nmiLine = state
}

// AssertIRQ sets the level-triggered IRQ line (mappers and the APU frame
// sequencer share it; any of them holding it high keeps it asserted).
func (cpu *CPU) AssertIRQ(state bool) {
	cpu.irqLine = state
}

// RequestOAMDMA begins an OAM-DMA transfer from page (page<<8) on the next
// instruction boundary. The 513/514-cycle length depends on whether the
// triggering write landed on an odd CPU cycle.
func (cpu *CPU) RequestOAMDMA(page uint8) {
	cpu.oamDMA.pending = true
	cpu.oamDMA.page = page
}

// AddDMCStall accumulates CPU stall cycles requested by a DMC sample fetch;
// they are drained at the next instruction boundary, ahead of normal fetch.
func (cpu *CPU) AddDMCStall(n int) {
	cpu.dmcStall += n
}

// OAMWriter is implemented by the PPU for OAM-DMA's byte transfer.
type OAMWriter interface {
	WriteOAMDMAByte(offset uint8, value uint8)
}

// SetOAMTarget wires the destination of OAM-DMA copies. Called once at
// bus construction time.
func (cpu *CPU) SetOAMTarget(target OAMWriter) {
	cpu.oamTarget = target
}

// Halted reports whether the CPU hit an unofficial KIL/JAM opcode. The PPU
// keeps rendering from its last-latched state while the CPU is halted, per
// the platform's documented behavior.
func (cpu *CPU) Halted() bool {
	return cpu.halted
}

// Snapshot is a gob-serializable point-in-time copy of every piece of CPU
// state a save state needs to resume execution exactly where it left off.
type Snapshot struct {
	A, X, Y, SP             uint8
	PC                      uint16
	C, Z, I, D, B, V, N     bool
	Cycles                  uint64
	WaitCycles              int
	Halted                  bool
	NMILine, NMILatched     bool
	IRQLine                 bool
	OAMDMAPending           bool
	OAMDMAActive            bool
	OAMDMAPage              uint8
	DMCStall                int
}

// Snapshot captures the CPU's full register and timing state.
func (cpu *CPU) Snapshot() Snapshot {
	return Snapshot{
		A: cpu.A, X: cpu.X, Y: cpu.Y, SP: cpu.SP, PC: cpu.PC,
		C: cpu.C, Z: cpu.Z, I: cpu.I, D: cpu.D, B: cpu.B, V: cpu.V, N: cpu.N,
		Cycles:        cpu.cycles,
		WaitCycles:    cpu.waitCycles,
		Halted:        cpu.halted,
		NMILine:       cpu.nmiLine,
		NMILatched:    cpu.nmiLatched,
		IRQLine:       cpu.irqLine,
		OAMDMAPending: cpu.oamDMA.pending,
		OAMDMAActive:  cpu.oamDMA.active,
		OAMDMAPage:    cpu.oamDMA.page,
		DMCStall:      cpu.dmcStall,
	}
}

// Restore replaces the CPU's register and timing state with a snapshot
// taken earlier by Snapshot.
func (cpu *CPU) Restore(s Snapshot) {
	cpu.A, cpu.X, cpu.Y, cpu.SP, cpu.PC = s.A, s.X, s.Y, s.SP, s.PC
	cpu.C, cpu.Z, cpu.I, cpu.D, cpu.B, cpu.V, cpu.N = s.C, s.Z, s.I, s.D, s.B, s.V, s.N
	cpu.cycles = s.Cycles
	cpu.waitCycles = s.WaitCycles
	cpu.halted = s.Halted
	cpu.nmiLine = s.NMILine
	cpu.nmiLatched = s.NMILatched
	cpu.irqLine = s.IRQLine
	cpu.oamDMA = oamDMAState{pending: s.OAMDMAPending, active: s.OAMDMAActive, page: s.OAMDMAPage}
	cpu.dmcStall = s.DMCStall
}

// Cycles returns the total number of master cycles elapsed since Reset.
func (cpu *CPU) Cycles() uint64 {
	return cpu.cycles
}

// Tick advances the CPU by exactly one master cycle.
func (cpu *CPU) Tick() {
	cpu.cycles++

	if cpu.halted {
		return
	}

	if cpu.waitCycles > 0 {
		cpu.waitCycles--
		return
	}

	// Instruction boundary: service pending work in spec priority order.
	if cpu.nmiLatched {
		cpu.nmiLatched = false
		cpu.trace("nmi", "NMI")
		cpu.handleInterrupt(nmiVector)
		cpu.waitCycles = 6 // 7 cycles total, 1 already spent this tick
		return
	}

	if cpu.irqLine && !cpu.I {
		cpu.trace("irq", "IRQ")
		cpu.handleInterrupt(irqVector)
		cpu.waitCycles = 6
		return
	}

	if cpu.oamDMA.pending {
		cpu.oamDMA.pending = false
		cpu.performOAMDMA()
		return
	}

	if cpu.dmcStall > 0 {
		stall := cpu.dmcStall
		cpu.dmcStall = 0
		cpu.waitCycles = stall - 1
		return
	}

	cycles := cpu.stepInstruction()
	cpu.waitCycles = int(cycles) - 1
}

// performOAMDMA executes the 256-byte OAM-DMA copy. The transfer's
// documented effect (256 alternating read/write bus cycles) is applied in
// one step and the stall length — 513 cycles, or 514 if the triggering
// write landed on an odd CPU cycle — is charged to waitCycles, matching
// every other instruction-boundary operation in this CPU: the guest-visible
// effect and its cycle cost are both correct, without modeling each of the
// 512 individual bus transactions.
func (cpu *CPU) performOAMDMA() {
	base := uint16(cpu.oamDMA.page) << 8
	for i := 0; i < 256; i++ {
		value := cpu.memory.Read(base + uint16(i))
		if cpu.oamTarget != nil {
			cpu.oamTarget.WriteOAMDMAByte(uint8(i), value)
		}
	}

	total := 513
	if cpu.cycles%2 == 1 {
		total = 514
	}
	cpu.waitCycles = total - 1
}

func (cpu *CPU) handleInterrupt(vector uint16) {
	cpu.pushWord(cpu.PC)
	status := cpu.GetStatusByte() & ^uint8(bFlagMask)
	status |= unusedMask
	cpu.push(status)
	cpu.I = true
	low := uint16(cpu.memory.Read(vector))
	high := uint16(cpu.memory.Read(vector + 1))
	cpu.PC = (high << 8) | low
}

// stepInstruction fetches, decodes, and executes one instruction, returning
// its total cycle cost including page-cross and branch-taken penalties.
func (cpu *CPU) stepInstruction() uint8 {
	opcode := cpu.memory.Read(cpu.PC)
	instruction := cpu.instructions[opcode]

	if instruction == nil {
		cpu.PC++
		return 2
	}

	cpu.trace("instruction", instruction.Name)

	address, pageCrossed := cpu.getOperandAddress(instruction.Mode)
	extraCycles := cpu.executeInstruction(opcode, address, pageCrossed)

	if pageCrossed {
		switch opcode {
		case 0x9D, 0x99, 0x91: // store instructions always pay
			extraCycles++
		default:
			if readPageCrossPenalty[opcode] {
				extraCycles++
			}
		}
	}

	return instruction.Cycles + extraCycles
}

var readPageCrossPenalty = func() [256]bool {
	var t [256]bool
	for _, op := range []uint8{
		0xBD, 0xB9, 0xB1, 0xBE, 0xBC, 0x7D, 0x79, 0x71, 0x3D, 0x39, 0x31,
		0x1D, 0x19, 0x11, 0x5D, 0x59, 0x51, 0xDD, 0xD9, 0xD1,
		0x1C, 0x3C, 0x5C, 0x7C, 0xDC, 0xFC,
		0xBF, 0xB3, 0xD3, 0xD7, 0xDF, 0xF3, 0xF7, 0xFF,
		0x13, 0x17, 0x1F, 0x33, 0x37, 0x3F, 0x53, 0x57, 0x5F, 0x73, 0x77, 0x7F,
	} {
		t[op] = true
	}
	return t
}()

// getOperandAddress returns the effective address for the given addressing
// mode and whether resolving it crossed a page boundary.
func (cpu *CPU) getOperandAddress(mode AddressingMode) (uint16, bool) {
	switch mode {
	case Implied, Accumulator:
		cpu.PC++
		return 0, false

	case Immediate:
		address := cpu.PC + 1
		cpu.PC += 2
		return address, false

	case ZeroPage:
		address := uint16(cpu.memory.Read(cpu.PC + 1))
		cpu.PC += 2
		return address, false

	case ZeroPageX:
		base := cpu.memory.Read(cpu.PC + 1)
		address := uint16((base + cpu.X) & zeroPageMask)
		cpu.PC += 2
		return address, false

	case ZeroPageY:
		base := cpu.memory.Read(cpu.PC + 1)
		address := uint16((base + cpu.Y) & zeroPageMask)
		cpu.PC += 2
		return address, false

	case Relative:
		offset := int8(cpu.memory.Read(cpu.PC + 1))
		oldPC := cpu.PC + 2
		newPC := uint16(int32(oldPC) + int32(offset))
		cpu.PC = oldPC
		pageCrossed := (oldPC & pageMask) != (newPC & pageMask)
		return newPC, pageCrossed

	case Absolute:
		low := uint16(cpu.memory.Read(cpu.PC + 1))
		high := uint16(cpu.memory.Read(cpu.PC + 2))
		address := (high << 8) | low
		cpu.PC += 3
		return address, false

	case AbsoluteX:
		low := uint16(cpu.memory.Read(cpu.PC + 1))
		high := uint16(cpu.memory.Read(cpu.PC + 2))
		base := (high << 8) | low
		address := base + uint16(cpu.X)
		cpu.PC += 3
		return address, (base & pageMask) != (address & pageMask)

	case AbsoluteY:
		low := uint16(cpu.memory.Read(cpu.PC + 1))
		high := uint16(cpu.memory.Read(cpu.PC + 2))
		base := (high << 8) | low
		address := base + uint16(cpu.Y)
		cpu.PC += 3
		return address, (base & pageMask) != (address & pageMask)

	case Indirect: // JMP only
		lowPtr := uint16(cpu.memory.Read(cpu.PC + 1))
		highPtr := uint16(cpu.memory.Read(cpu.PC + 2))
		ptr := (highPtr << 8) | lowPtr

		var address uint16
		if (ptr & zeroPageMask) == zeroPageMask {
			low := uint16(cpu.memory.Read(ptr))
			high := uint16(cpu.memory.Read(ptr & pageMask)) // page-wrap bug
			address = (high << 8) | low
		} else {
			low := uint16(cpu.memory.Read(ptr))
			high := uint16(cpu.memory.Read(ptr + 1))
			address = (high << 8) | low
		}
		cpu.PC += 3
		return address, false

	case IndexedIndirect: // (zp,X)
		base := cpu.memory.Read(cpu.PC + 1)
		ptr := (base + cpu.X) & zeroPageMask
		low := uint16(cpu.memory.Read(uint16(ptr)))
		high := uint16(cpu.memory.Read(uint16((ptr + 1) & zeroPageMask)))
		address := (high << 8) | low
		cpu.PC += 2
		return address, false

	case IndirectIndexed: // (zp),Y
		ptr := uint16(cpu.memory.Read(cpu.PC + 1))
		low := uint16(cpu.memory.Read(ptr))
		high := uint16(cpu.memory.Read((ptr + 1) & zeroPageMask))
		base := (high << 8) | low
		address := base + uint16(cpu.Y)
		cpu.PC += 2
		return address, (base & pageMask) != (address & pageMask)

	default:
		return 0, false
	}
}

func (cpu *CPU) push(value uint8) {
	cpu.memory.Write(stackBase+uint16(cpu.SP), value)
	cpu.SP--
}

func (cpu *CPU) pop() uint8 {
	cpu.SP++
	return cpu.memory.Read(stackBase + uint16(cpu.SP))
}

func (cpu *CPU) pushWord(value uint16) {
	cpu.push(uint8(value >> 8))
	cpu.push(uint8(value & 0xFF))
}

func (cpu *CPU) popWord() uint16 {
	low := uint16(cpu.pop())
	high := uint16(cpu.pop())
	return (high << 8) | low
}

func (cpu *CPU) setZN(value uint8) {
	cpu.Z = value == 0
	cpu.N = (value & nFlagMask) != 0
}

// GetStatusByte packs the flags into the processor status byte. Bit 5 is
// unused on real hardware and always reads as 1.
func (cpu *CPU) GetStatusByte() uint8 {
	var status uint8
	if cpu.N {
		status |= nFlagMask
	}
	if cpu.V {
		status |= vFlagMask
	}
	status |= unusedMask
	if cpu.B {
		status |= bFlagMask
	}
	if cpu.D {
		status |= dFlagMask
	}
	if cpu.I {
		status |= iFlagMask
	}
	if cpu.Z {
		status |= zFlagMask
	}
	if cpu.C {
		status |= cFlagMask
	}
	return status
}

// SetStatusByte unpacks a processor status byte into the flags.
func (cpu *CPU) SetStatusByte(status uint8) {
	cpu.N = (status & nFlagMask) != 0
	cpu.V = (status & vFlagMask) != 0
	cpu.B = (status & bFlagMask) != 0
	cpu.D = (status & dFlagMask) != 0
	cpu.I = (status & iFlagMask) != 0
	cpu.Z = (status & zFlagMask) != 0
	cpu.C = (status & cFlagMask) != 0
}
