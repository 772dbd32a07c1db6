// Package cartridge implements ROM loading and parsing for NES cartridges.
package cartridge

// Mapper004 implements MMC3 (mapper 4): 8 bank registers selected by a
// bank-select/data register pair at $8000/$8001, independent PRG/CHR mode
// bits, and a scanline counter that raises an IRQ when it decrements to
// zero. The counter is clocked by ScanlineTick, called by the PPU once
// per visible scanline at around dot 260 when rendering is enabled.
type Mapper004 struct {
	cart *Cartridge

	bankSelect uint8
	bankData   [8]uint8

	prgBanks uint8
	chrBanks uint8

	irqLatch   uint8
	irqCounter uint8
	irqReload  bool
	irqEnabled bool
	irqPending bool
}

// NewMapper004 creates a new MMC3 mapper.
func NewMapper004(cart *Cartridge) *Mapper004 {
	prgBanks := uint8(len(cart.prgROM) / 0x2000) // 8KB PRG banks
	if prgBanks == 0 {
		prgBanks = 1
	}
	chrBanks := uint8(len(cart.chrROM) / 0x0400) // 1KB CHR banks
	if chrBanks == 0 {
		chrBanks = 1
	}
	return &Mapper004{cart: cart, prgBanks: prgBanks, chrBanks: chrBanks}
}

func (m *Mapper004) prgMode() bool { return m.bankSelect&0x40 != 0 }
func (m *Mapper004) chrMode() bool { return m.bankSelect&0x80 != 0 }

func (m *Mapper004) ReadPRG(address uint16) uint8 {
	if address >= 0x6000 && address < 0x8000 {
		return m.cart.sram[address-0x6000]
	}
	if address < 0x8000 {
		return 0
	}

	slot := (address - 0x8000) / 0x2000
	offset := (address - 0x8000) % 0x2000

	var bank uint8
	switch {
	case slot == 0 && !m.prgMode():
		bank = m.bankData[6]
	case slot == 0 && m.prgMode():
		bank = m.prgBanks - 2
	case slot == 1:
		bank = m.bankData[7]
	case slot == 2 && !m.prgMode():
		bank = m.prgBanks - 2
	case slot == 2 && m.prgMode():
		bank = m.bankData[6]
	default:
		bank = m.prgBanks - 1
	}

	bank %= m.prgBanks
	index := uint32(bank)*0x2000 + uint32(offset)
	if int(index) < len(m.cart.prgROM) {
		return m.cart.prgROM[index]
	}
	return 0
}

func (m *Mapper004) WritePRG(address uint16, value uint8) {
	if address >= 0x6000 && address < 0x8000 {
		m.cart.sram[address-0x6000] = value
		return
	}
	if address < 0x8000 {
		return
	}

	even := address%2 == 0
	switch {
	case address < 0xA000 && even:
		m.bankSelect = value
	case address < 0xA000:
		m.bankData[m.bankSelect&0x07] = value
	case address < 0xC000 && even:
		if value&0x01 != 0 {
			m.cart.mirror = MirrorHorizontal
		} else {
			m.cart.mirror = MirrorVertical
		}
	case address < 0xC000:
		// PRG-RAM protect register; SRAM is always read/writable here.
	case address < 0xE000 && even:
		m.irqLatch = value
	case address < 0xE000:
		m.irqReload = true
	case even:
		m.irqEnabled = false
		m.irqPending = false
	default:
		m.irqEnabled = true
	}
}

func (m *Mapper004) ReadCHR(address uint16) uint8 {
	bank, offset := m.chrBankFor(address)
	index := uint32(bank)*0x0400 + uint32(offset)
	if int(index) < len(m.cart.chrROM) {
		return m.cart.chrROM[index]
	}
	return 0
}

func (m *Mapper004) WriteCHR(address uint16, value uint8) {
	if !m.cart.hasCHRRAM {
		return
	}
	bank, offset := m.chrBankFor(address)
	index := uint32(bank)*0x0400 + uint32(offset)
	if int(index) < len(m.cart.chrROM) {
		m.cart.chrROM[index] = value
	}
}

func (m *Mapper004) chrBankFor(address uint16) (uint8, uint16) {
	set := address < 0x1000
	if m.chrMode() {
		set = !set
	}
	local := address % 0x1000

	var bank uint8
	if set {
		// Two 2KB regions.
		if local < 0x0800 {
			bank = m.bankData[0] &^ 0x01
			if local >= 0x0400 {
				bank++
			}
			local %= 0x0400
		} else {
			bank = m.bankData[1] &^ 0x01
			local -= 0x0800
			if local >= 0x0400 {
				bank++
			}
			local %= 0x0400
		}
	} else {
		// Four 1KB regions.
		idx := 2 + local/0x0400
		bank = m.bankData[idx]
		local %= 0x0400
	}
	if m.chrBanks > 0 {
		bank %= m.chrBanks
	}
	return bank, local
}

// ScanlineTick clocks the IRQ counter: if it's zero (or a reload was
// requested via $C001), reload from the latch; otherwise decrement. When
// the result reaches zero with IRQs enabled, assert the pending IRQ.
// Called by the PPU once per visible scanline, around dot 260.
func (m *Mapper004) ScanlineTick() {
	if m.irqCounter == 0 || m.irqReload {
		m.irqCounter = m.irqLatch
		m.irqReload = false
	} else {
		m.irqCounter--
	}
	if m.irqCounter == 0 && m.irqEnabled {
		m.irqPending = true
	}
}

// IRQPending reports whether the scanline counter has reached zero with
// IRQs enabled, satisfying the cartridge-level IRQSource interface.
func (m *Mapper004) IRQPending() bool { return m.irqPending }

// ClearIRQ acknowledges the pending IRQ (called once the CPU services it).
func (m *Mapper004) ClearIRQ() { m.irqPending = false }
