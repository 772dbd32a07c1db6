// Package ppu implements the Picture Processing Unit (2C02) for the NES.
package ppu

import "github.com/example/gones-nes/internal/memory"

// TraceEvent names a point of interest the PPU reports to an installed
// Tracer, mirroring the cpu package's hook.
type TraceEvent struct {
	Kind     string // "vblank", "sprite0", "overflow"
	Scanline int
	Cycle    int
}

// Tracer receives PPU trace events.
type Tracer interface {
	Trace(TraceEvent)
}

// spriteUnit holds one of the 8 sprite shift-register slots loaded during
// sprite evaluation and clocked out during the following scanline.
type spriteUnit struct {
	patternLo uint8
	patternHi uint8
	attribute uint8
	xCounter  uint8
	isSprite0 bool
	active    bool
}

// PPU emulates the NES Picture Processing Unit at dot granularity: a
// background shift-register pipeline feeding two pattern-bit and two
// attribute-bit 16-bit registers, plus 8 sprite shift-register slots loaded
// one scanline ahead of when they're drawn, matching real PPU latency.
type PPU struct {
	ppuCtrl   uint8
	ppuMask   uint8
	ppuStatus uint8
	oamAddr   uint8

	v uint16
	t uint16
	x uint8
	w bool

	memory *memory.PPUMemory
	tracer Tracer

	scanline int
	cycle    int

	frameCount uint64
	oddFrame   bool
	readBuffer uint8

	oam          [256]uint8
	spriteUnits  [8]spriteUnit
	spriteCount  int
	sprite0Hit   bool
	spriteOvflow bool

	bgPatternLoShift uint16
	bgPatternHiShift uint16
	bgAttrLoShift    uint16
	bgAttrHiShift    uint16

	nextTileID  uint8
	nextAttr    uint8
	nextPattLo  uint8
	nextPattHi  uint8

	backgroundEnabled bool
	spritesEnabled    bool

	nmiCallback           func()
	frameCompleteCallback func()
	scanlineIRQCallback   func()

	frameBuffer [256 * 240]uint32
}

// New creates a PPU at its power-up state.
func New() *PPU {
	return &PPU{scanline: -1}
}

// SetTracer installs (or clears) a trace sink.
func (p *PPU) SetTracer(t Tracer) { p.tracer = t }

func (p *PPU) trace(kind string) {
	if p.tracer != nil {
		p.tracer.Trace(TraceEvent{Kind: kind, Scanline: p.scanline, Cycle: p.cycle})
	}
}

// Reset restores power-up state.
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.ppuStatus = 0xA0
	p.oamAddr = 0
	p.v, p.t, p.x = 0, 0, 0
	p.w = false
	p.scanline = -1
	p.cycle = 0
	p.frameCount = 0
	p.oddFrame = false
	p.readBuffer = 0
	p.spriteCount = 0
	p.sprite0Hit = false
	p.spriteOvflow = false
	p.backgroundEnabled = false
	p.spritesEnabled = false
	for i := range p.oam {
		p.oam[i] = 0
	}
	for i := range p.frameBuffer {
		p.frameBuffer[i] = 0
	}
}

// SetMemory wires the PPU's own address space ($0000-$3FFF).
func (p *PPU) SetMemory(m *memory.PPUMemory) { p.memory = m }

// GetMemory returns the PPU's nametable/palette memory, for save states.
func (p *PPU) GetMemory() *memory.PPUMemory { return p.memory }

// SetNMICallback installs the function called the instant VBlank begins
// with NMI generation enabled (PPUCTRL bit 7).
func (p *PPU) SetNMICallback(callback func()) { p.nmiCallback = callback }

// SetScanlineIRQCallback installs the function called once per visible
// scanline, at around dot 260, while rendering is enabled. IRQ-capable
// mappers (MMC3's scanline counter) clock their counter off this hook.
func (p *PPU) SetScanlineIRQCallback(callback func()) { p.scanlineIRQCallback = callback }

// SetFrameCompleteCallback installs the function called once per completed
// frame (pre-render scanline wraparound).
func (p *PPU) SetFrameCompleteCallback(callback func()) { p.frameCompleteCallback = callback }

// ReadRegister reads a CPU-visible PPU register ($2000-$2007, mirrored).
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case 0x2002:
		status := p.ppuStatus
		p.ppuStatus &= 0x7F // clear VBL; sprite0/overflow already clear per-vblank-start
		p.w = false
		return status
	case 0x2004:
		return p.oam[p.oamAddr]
	case 0x2007:
		return p.readPPUData()
	default: // write-only registers read back open bus (low 5 bits of status)
		return p.ppuStatus & 0x1F
	}
}

// WriteRegister writes a CPU-visible PPU register ($2000-$2007, mirrored).
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address {
	case 0x2000:
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
		p.checkNMI()
	case 0x2001:
		p.ppuMask = value
		p.backgroundEnabled = (value & 0x08) != 0
		p.spritesEnabled = (value & 0x10) != 0
	case 0x2003:
		p.oamAddr = value
	case 0x2004:
		p.oam[p.oamAddr] = value
		p.oamAddr++
	case 0x2005:
		p.writeScroll(value)
	case 0x2006:
		p.writeAddr(value)
	case 0x2007:
		p.writePPUData(value)
	}
}

// WriteOAMDMAByte writes one byte of an OAM-DMA transfer at the given
// zero-based transfer offset; the destination wraps from the current
// OAMADDR, matching hardware.
func (p *PPU) WriteOAMDMAByte(offset uint8, value uint8) {
	p.oam[p.oamAddr+offset] = value
}

// WriteOAM writes OAM directly at an absolute index (used by callers other
// than the DMA path, e.g. test fixtures).
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

func (p *PPU) checkNMI() {
	if (p.ppuCtrl&0x80) != 0 && (p.ppuStatus&0x80) != 0 && p.nmiCallback != nil {
		p.nmiCallback()
	}
}

// Tick advances the PPU by exactly one PPU dot (1/3 of a CPU cycle).
func (p *PPU) Tick() {
	p.renderStep()

	p.cycle++
	if p.cycle > 340 {
		p.cycle = 0
		p.scanline++
		if p.scanline > 260 {
			p.scanline = -1
			p.frameCount++
			p.oddFrame = !p.oddFrame
			if p.frameCompleteCallback != nil {
				p.frameCompleteCallback()
			}
		}
	}

	if p.scanline == 241 && p.cycle == 1 {
		p.ppuStatus |= 0x80
		p.ppuStatus &= 0x9F // clear sprite0/overflow, keep the VBL bit just set
		p.sprite0Hit = false
		p.spriteOvflow = false
		p.trace("vblank")
		if p.ppuCtrl&0x80 != 0 && p.nmiCallback != nil {
			p.nmiCallback()
		}
	}

	if p.scanline == -1 && p.cycle == 1 {
		p.ppuStatus &= 0x7F
	}

	if p.scanline >= 0 && p.scanline < 240 && p.cycle == 260 &&
		p.renderingEnabled() && p.scanlineIRQCallback != nil {
		p.scanlineIRQCallback()
	}
}

func (p *PPU) renderingEnabled() bool {
	return p.backgroundEnabled || p.spritesEnabled
}

// renderStep performs the background-fetch / shift-register pipeline and
// pixel output for the dot about to be consumed (pre-increment cycle value).
func (p *PPU) renderStep() {
	if p.scanline < -1 || p.scanline >= 240 {
		return
	}
	if !p.renderingEnabled() {
		return
	}

	fetchWindow := (p.cycle >= 1 && p.cycle <= 256) || (p.cycle >= 321 && p.cycle <= 336)
	if fetchWindow {
		p.shiftBackgroundRegisters()
		p.fetchBackgroundByte()
	}

	if p.cycle == 256 {
		p.incrementY()
	}
	if p.cycle == 257 {
		p.copyX()
		if p.scanline >= 0 && p.scanline < 240 {
			p.evaluateSprites()
		}
	}
	if p.scanline == -1 && p.cycle >= 280 && p.cycle <= 304 {
		p.copyY()
	}

	if p.cycle >= 1 && p.cycle <= 256 && p.scanline >= 0 && p.scanline < 240 {
		p.outputPixel(p.cycle - 1)
	}
}

func (p *PPU) fetchBackgroundByte() {
	switch (p.cycle - 1) % 8 {
	case 0:
		addr := 0x2000 | (p.v & 0x0FFF)
		p.nextTileID = p.memory.Read(addr)
	case 2:
		addr := 0x23C0 | (p.v & 0x0C00) | ((p.v >> 4) & 0x38) | ((p.v >> 2) & 0x07)
		attrByte := p.memory.Read(addr)
		shift := ((p.v >> 4) & 0x04) | (p.v & 0x02)
		p.nextAttr = (attrByte >> shift) & 0x03
	case 4:
		base := p.backgroundPatternBase()
		fineY := (p.v >> 12) & 0x07
		addr := base + uint16(p.nextTileID)*16 + fineY
		p.nextPattLo = p.memory.Read(addr)
	case 6:
		base := p.backgroundPatternBase()
		fineY := (p.v >> 12) & 0x07
		addr := base + uint16(p.nextTileID)*16 + fineY
		p.nextPattHi = p.memory.Read(addr + 8)
	case 7:
		p.loadBackgroundShiftRegisters()
		p.incrementX()
	}
}

func (p *PPU) backgroundPatternBase() uint16 {
	if p.ppuCtrl&0x10 != 0 {
		return 0x1000
	}
	return 0x0000
}

func (p *PPU) loadBackgroundShiftRegisters() {
	p.bgPatternLoShift = (p.bgPatternLoShift & 0xFF00) | uint16(p.nextPattLo)
	p.bgPatternHiShift = (p.bgPatternHiShift & 0xFF00) | uint16(p.nextPattHi)

	var loFill, hiFill uint16
	if p.nextAttr&0x01 != 0 {
		loFill = 0x00FF
	}
	if p.nextAttr&0x02 != 0 {
		hiFill = 0x00FF
	}
	p.bgAttrLoShift = (p.bgAttrLoShift & 0xFF00) | loFill
	p.bgAttrHiShift = (p.bgAttrHiShift & 0xFF00) | hiFill
}

func (p *PPU) shiftBackgroundRegisters() {
	if !p.backgroundEnabled {
		return
	}
	p.bgPatternLoShift <<= 1
	p.bgPatternHiShift <<= 1
	p.bgAttrLoShift <<= 1
	p.bgAttrHiShift <<= 1
}

func (p *PPU) incrementX() {
	if (p.v & 0x001F) == 31 {
		p.v &= ^uint16(0x001F)
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

func (p *PPU) incrementY() {
	if (p.v & 0x7000) != 0x7000 {
		p.v += 0x1000
	} else {
		p.v &= ^uint16(0x7000)
		y := (p.v & 0x03E0) >> 5
		switch y {
		case 29:
			y = 0
			p.v ^= 0x0800
		case 31:
			y = 0
		default:
			y++
		}
		p.v = (p.v & ^uint16(0x03E0)) | (y << 5)
	}
}

func (p *PPU) copyX() {
	p.v = (p.v & 0xFBE0) | (p.t & 0x041F)
}

func (p *PPU) copyY() {
	p.v = (p.v & 0x841F) | (p.t & 0x7BE0)
}

// evaluateSprites scans OAM for sprites visible on the NEXT scanline and
// loads their pattern data into the 8 sprite units, matching the real
// PPU's one-scanline evaluation latency.
func (p *PPU) evaluateSprites() {
	targetScanline := p.scanline + 1
	spriteHeight := 8
	if p.ppuCtrl&0x20 != 0 {
		spriteHeight = 16
	}

	for i := range p.spriteUnits {
		p.spriteUnits[i] = spriteUnit{}
	}
	p.spriteCount = 0
	found := 0

	for i := 0; i < 64; i++ {
		base := i * 4
		y := int(p.oam[base])
		row := targetScanline - (y + 1)
		if row < 0 || row >= spriteHeight {
			continue
		}

		if found >= 8 {
			p.spriteOvflow = true
			p.ppuStatus |= 0x20
			p.trace("overflow")
			break
		}

		tile := p.oam[base+1]
		attr := p.oam[base+2]
		x := p.oam[base+3]

		if attr&0x80 != 0 {
			row = spriteHeight - 1 - row
		}

		lo, hi := p.spritePatternBytes(tile, row, spriteHeight)
		if attr&0x40 != 0 {
			lo = reverseBits(lo)
			hi = reverseBits(hi)
		}

		p.spriteUnits[found] = spriteUnit{
			patternLo: lo,
			patternHi: hi,
			attribute: attr,
			xCounter:  x,
			isSprite0: i == 0,
			active:    true,
		}
		found++
	}
	p.spriteCount = found
}

func (p *PPU) spritePatternBytes(tile uint8, row, spriteHeight int) (uint8, uint8) {
	var base uint16
	if spriteHeight == 16 {
		if tile&0x01 != 0 {
			base = 0x1000
		}
		tile &= 0xFE
		if row >= 8 {
			tile++
			row -= 8
		}
	} else if p.ppuCtrl&0x08 != 0 {
		base = 0x1000
	}

	addr := base + uint16(tile)*16 + uint16(row)
	return p.memory.Read(addr), p.memory.Read(addr + 8)
}

func reverseBits(b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

func (p *PPU) outputPixel(pixelX int) {
	bgColorIndex, bgPalette := p.backgroundPixel()
	spColorIndex, spPalette, spPriority, spIsSprite0, spFound := p.spritePixel(pixelX)

	p.clockSprites()

	if p.spritesEnabled && spFound && spColorIndex != 0 && bgColorIndex != 0 &&
		spIsSprite0 && !p.sprite0Hit && pixelX != 255 && p.leftClipOK(pixelX) {
		p.sprite0Hit = true
		p.ppuStatus |= 0x40
		p.trace("sprite0")
	}

	var rgb uint32
	switch {
	case bgColorIndex == 0 && (spColorIndex == 0 || !spFound):
		rgb = p.colorFor(0x3F00)
	case bgColorIndex == 0:
		rgb = p.colorFor(0x3F10 + uint16(spPalette)*4 + uint16(spColorIndex))
	case spColorIndex == 0 || !spFound:
		rgb = p.colorFor(0x3F00 + uint16(bgPalette)*4 + uint16(bgColorIndex))
	case spPriority:
		rgb = p.colorFor(0x3F00 + uint16(bgPalette)*4 + uint16(bgColorIndex))
	default:
		rgb = p.colorFor(0x3F10 + uint16(spPalette)*4 + uint16(spColorIndex))
	}

	if pixelX >= 0 && pixelX < 256 && p.scanline >= 0 && p.scanline < 240 {
		p.frameBuffer[p.scanline*256+pixelX] = rgb
	}
}

func (p *PPU) leftClipOK(pixelX int) bool {
	if pixelX >= 8 {
		return true
	}
	return p.ppuMask&0x02 != 0 && p.ppuMask&0x04 != 0
}

func (p *PPU) colorFor(paletteAddr uint16) uint32 {
	return NESColorToRGB(p.memory.Read(paletteAddr))
}

func (p *PPU) backgroundPixel() (uint8, uint8) {
	if !p.backgroundEnabled {
		return 0, 0
	}
	mask := uint16(0x8000) >> p.x
	var lo, hi, aLo, aHi uint8
	if p.bgPatternLoShift&mask != 0 {
		lo = 1
	}
	if p.bgPatternHiShift&mask != 0 {
		hi = 1
	}
	if p.bgAttrLoShift&mask != 0 {
		aLo = 1
	}
	if p.bgAttrHiShift&mask != 0 {
		aHi = 1
	}
	return (hi << 1) | lo, (aHi << 1) | aLo
}

// spritePixel returns the highest-priority active sprite's color index and
// attributes for the pixel about to be output. Sprites earlier in OAM order
// (lower index in spriteUnits) win on overlap, matching hardware.
func (p *PPU) spritePixel(pixelX int) (colorIndex uint8, palette uint8, priority bool, isSprite0 bool, found bool) {
	if !p.spritesEnabled {
		return 0, 0, false, false, false
	}
	for i := 0; i < p.spriteCount; i++ {
		u := &p.spriteUnits[i]
		if !u.active || u.xCounter != 0 {
			continue
		}
		lo := (u.patternLo >> 7) & 1
		hi := (u.patternHi >> 7) & 1
		c := (hi << 1) | lo
		if c == 0 {
			continue
		}
		return c, u.attribute & 0x03, u.attribute&0x20 != 0, u.isSprite0, true
	}
	return 0, 0, false, false, false
}

func (p *PPU) clockSprites() {
	if !p.spritesEnabled {
		return
	}
	for i := 0; i < p.spriteCount; i++ {
		u := &p.spriteUnits[i]
		if !u.active {
			continue
		}
		if u.xCounter > 0 {
			u.xCounter--
			continue
		}
		u.patternLo <<= 1
		u.patternHi <<= 1
	}
}

func (p *PPU) writeScroll(value uint8) {
	if !p.w {
		p.t = (p.t & 0xFFE0) | (uint16(value) >> 3)
		p.x = value & 0x07
		p.w = true
	} else {
		p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12)
		p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)
		p.w = false
	}
}

func (p *PPU) writeAddr(value uint8) {
	if !p.w {
		p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
		p.w = true
	} else {
		p.t = (p.t & 0xFF00) | uint16(value)
		p.v = p.t
		p.w = false
	}
}

func (p *PPU) readPPUData() uint8 {
	var data uint8
	if p.memory == nil {
		data = 0
	} else if p.v >= 0x3F00 {
		data = p.memory.Read(p.v)
		p.readBuffer = p.memory.Read(p.v & 0x2FFF)
	} else {
		data = p.readBuffer
		p.readBuffer = p.memory.Read(p.v)
	}
	p.advanceAddr()
	return data
}

func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	p.advanceAddr()
}

func (p *PPU) advanceAddr() {
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v += 1
	}
	p.v &= 0x3FFF
}

// GetFrameBuffer returns the current 256x240 RGB frame buffer.
func (p *PPU) GetFrameBuffer() [256 * 240]uint32 { return p.frameBuffer }

// GetFrameCount returns the number of frames completed since Reset.
func (p *PPU) GetFrameCount() uint64 { return p.frameCount }

// SetFrameCount forces the frame counter, used when synchronizing with an
// external frame-pacing source.
func (p *PPU) SetFrameCount(count uint64) { p.frameCount = count }

// GetScanline returns the current scanline (-1 is the pre-render line).
func (p *PPU) GetScanline() int { return p.scanline }

// GetCycle returns the current dot within the scanline.
func (p *PPU) GetCycle() int { return p.cycle }

// IsRenderingEnabled reports whether background or sprite rendering is on.
func (p *PPU) IsRenderingEnabled() bool { return p.renderingEnabled() }

// IsVBlank reports the current state of the VBlank flag.
func (p *PPU) IsVBlank() bool { return (p.ppuStatus & 0x80) != 0 }

// Snapshot is a gob-serializable copy of the PPU's register and timing
// state, OAM, and frame buffer. In-flight shift-register/sprite-unit
// contents aren't captured — they rebuild within a few dots of resuming,
// the same way they do after Reset.
type Snapshot struct {
	PPUCtrl, PPUMask, PPUStatus, OAMAddr uint8
	V, T                                 uint16
	X                                    uint8
	W                                    bool
	Scanline, Cycle                      int
	FrameCount                           uint64
	OddFrame                             bool
	ReadBuffer                           uint8
	OAM                                  [256]uint8
	Sprite0Hit, SpriteOverflow           bool
	BackgroundEnabled, SpritesEnabled    bool
	FrameBuffer                          [256 * 240]uint32
}

// Snapshot captures the PPU's register, timing, and OAM/frame-buffer state.
func (p *PPU) Snapshot() Snapshot {
	return Snapshot{
		PPUCtrl: p.ppuCtrl, PPUMask: p.ppuMask, PPUStatus: p.ppuStatus, OAMAddr: p.oamAddr,
		V: p.v, T: p.t, X: p.x, W: p.w,
		Scanline: p.scanline, Cycle: p.cycle,
		FrameCount: p.frameCount, OddFrame: p.oddFrame, ReadBuffer: p.readBuffer,
		OAM:               p.oam,
		Sprite0Hit:        p.sprite0Hit,
		SpriteOverflow:    p.spriteOvflow,
		BackgroundEnabled: p.backgroundEnabled,
		SpritesEnabled:    p.spritesEnabled,
		FrameBuffer:       p.frameBuffer,
	}
}

// Restore replaces the PPU's register, timing, and OAM/frame-buffer state
// with a snapshot taken earlier by Snapshot.
func (p *PPU) Restore(s Snapshot) {
	p.ppuCtrl, p.ppuMask, p.ppuStatus, p.oamAddr = s.PPUCtrl, s.PPUMask, s.PPUStatus, s.OAMAddr
	p.v, p.t, p.x, p.w = s.V, s.T, s.X, s.W
	p.scanline, p.cycle = s.Scanline, s.Cycle
	p.frameCount, p.oddFrame, p.readBuffer = s.FrameCount, s.OddFrame, s.ReadBuffer
	p.oam = s.OAM
	p.sprite0Hit = s.Sprite0Hit
	p.spriteOvflow = s.SpriteOverflow
	p.backgroundEnabled = s.BackgroundEnabled
	p.spritesEnabled = s.SpritesEnabled
	p.frameBuffer = s.FrameBuffer
	p.spriteCount = 0
	for i := range p.spriteUnits {
		p.spriteUnits[i] = spriteUnit{}
	}
	p.bgPatternLoShift, p.bgPatternHiShift = 0, 0
	p.bgAttrLoShift, p.bgAttrHiShift = 0, 0
}

var nesColorPalette = [64]uint32{
	0xFF666666, 0xFF002A88, 0xFF1412A7, 0xFF3B00A4, 0xFF5C007E, 0xFF6E0040, 0xFF6C0600, 0xFF561D00,
	0xFF333500, 0xFF0B4800, 0xFF005200, 0xFF004F08, 0xFF00404D, 0xFF000000, 0xFF000000, 0xFF000000,
	0xFFADADAD, 0xFF155FD9, 0xFF4240FF, 0xFF7527FE, 0xFFA01ACC, 0xFFB71E7B, 0xFFB53120, 0xFF994E00,
	0xFF6B6D00, 0xFF388700, 0xFF0C9300, 0xFF008F32, 0xFF007C8D, 0xFF000000, 0xFF000000, 0xFF000000,
	0xFFFFFEFF, 0xFF64B0FF, 0xFF9290FF, 0xFFC676FF, 0xFFF36AFF, 0xFFFE6ECC, 0xFFFE8170, 0xFFEA9E22,
	0xFFBCBE00, 0xFF88D800, 0xFF5CE430, 0xFF45E082, 0xFF48CDDE, 0xFF4F4F4F, 0xFF000000, 0xFF000000,
	0xFFFFFEFF, 0xFFC0DFFF, 0xFFD3D2FF, 0xFFE8C8FF, 0xFFFBC2FF, 0xFFFEC4EA, 0xFFFECCC5, 0xFFF7D8A5,
	0xFFE4E594, 0xFFCFF29B, 0xFFBEFBB3, 0xFFB8F8D8, 0xFFB8F8F8, 0xFF000000, 0xFF000000, 0xFF000000,
}

// NESColorToRGB converts a 6-bit NES palette index to an RGB triple.
func NESColorToRGB(colorIndex uint8) uint32 {
	if colorIndex >= 64 {
		return 0x000000
	}
	return nesColorPalette[colorIndex] & 0x00FFFFFF
}
