package cartridge

import (
	"bytes"
	"errors"
	"testing"
)

// buildINES builds a minimal iNES image: header + trainer (optional) +
// prgROM + chrROM, with mapper/mirroring/battery bits packed into
// flags 6/7 the way a real dumper would.
func buildINES(mapperID uint8, mirrorVertical, battery bool, prgBanks, chrBanks int, trainer bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("NES\x1A")
	buf.WriteByte(uint8(prgBanks))
	buf.WriteByte(uint8(chrBanks))

	flags6 := (mapperID & 0x0F) << 4
	if mirrorVertical {
		flags6 |= 0x01
	}
	if battery {
		flags6 |= 0x02
	}
	if trainer {
		flags6 |= 0x04
	}
	flags7 := mapperID & 0xF0

	buf.WriteByte(flags6)
	buf.WriteByte(flags7)
	buf.Write(make([]byte, 8)) // PRGRAMSize, TVSystem1/2, padding[5]

	if trainer {
		buf.Write(make([]byte, 512))
	}

	// Fill PRG/CHR with a marker byte per 8KB/1KB chunk (the finest bank
	// granularity any mapper here uses) instead of a repeating byte
	// counter, so reads from different banks are guaranteed to differ
	// rather than aliasing on a 256-byte-periodic pattern.
	prg := make([]byte, prgBanks*16384)
	for i := range prg {
		prg[i] = uint8(i/0x2000) + 1
	}
	buf.Write(prg)

	if chrBanks > 0 {
		chr := make([]byte, chrBanks*8192)
		for i := range chr {
			chr[i] = uint8(i/0x0400) + 1 // non-zero so it isn't misdetected as CHR RAM
		}
		buf.Write(chr)
	}

	return buf.Bytes()
}

func TestLoadFromReader_ShouldRejectBadMagic(t *testing.T) {
	data := buildINES(0, false, false, 1, 1, false)
	data[0] = 'X'

	_, err := LoadFromReader(bytes.NewReader(data))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestLoadFromReader_ShouldRejectZeroPRG(t *testing.T) {
	data := buildINES(0, false, false, 0, 1, false)

	_, err := LoadFromReader(bytes.NewReader(data))
	if !errors.Is(err, ErrZeroPRG) {
		t.Fatalf("expected ErrZeroPRG, got %v", err)
	}
}

func TestLoadFromReader_ShouldRejectTruncatedPRG(t *testing.T) {
	data := buildINES(0, false, false, 2, 1, false)
	data = data[:len(data)-100]

	_, err := LoadFromReader(bytes.NewReader(data))
	if !errors.Is(err, ErrTruncatedROM) {
		t.Fatalf("expected ErrTruncatedROM, got %v", err)
	}
}

func TestLoadFromReader_ShouldSelectMapperAndMirroring(t *testing.T) {
	data := buildINES(4, true, true, 2, 2, false)

	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.mapperID != 4 {
		t.Errorf("expected mapper ID 4, got %d", cart.mapperID)
	}
	if _, ok := cart.mapper.(*Mapper004); !ok {
		t.Errorf("expected *Mapper004, got %T", cart.mapper)
	}
	if cart.GetMirrorMode() != MirrorVertical {
		t.Errorf("expected vertical mirroring, got %v", cart.GetMirrorMode())
	}
	if !cart.hasBattery {
		t.Error("expected hasBattery true")
	}
}

func TestLoadFromReader_ShouldSkipTrainer(t *testing.T) {
	data := buildINES(0, false, false, 1, 1, true)

	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First PRG byte should be the marker for chunk 0 (value 1), proving
	// the 512-byte trainer was consumed rather than read as PRG data.
	if got := cart.ReadPRG(0x8000); got != 1 {
		t.Errorf("expected first PRG byte 1, got %d", got)
	}
}

func TestCartridge_IRQPending_ShouldBeFalseForNonIRQMapper(t *testing.T) {
	data := buildINES(0, false, false, 1, 1, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.IRQPending() {
		t.Error("NROM cartridge should never report a pending IRQ")
	}
	cart.ClearIRQ() // must not panic on a mapper with no IRQSource
}

func TestMapper000_ShouldMirror16KBROM(t *testing.T) {
	data := buildINES(0, false, false, 1, 1, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.ReadPRG(0x8000) != cart.ReadPRG(0xC000) {
		t.Error("16KB NROM should mirror $8000 and $C000")
	}
}

func TestMapper000_ShouldPersistSRAM(t *testing.T) {
	data := buildINES(0, false, false, 2, 1, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cart.WritePRG(0x6000, 0x42)
	if got := cart.ReadPRG(0x6000); got != 0x42 {
		t.Errorf("expected SRAM round-trip 0x42, got 0x%02X", got)
	}
}

func TestMapper002_ShouldSwitchFirstBankAndFixLast(t *testing.T) {
	data := buildINES(2, false, false, 4, 0, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lastBankByte := cart.ReadPRG(0xC000)

	cart.WritePRG(0x8000, 2)
	want := uint8(2*0x4000/0x2000) + 1 // chunk marker for PRG bank 2
	if got := cart.ReadPRG(0x8000); got != want {
		t.Errorf("expected switched bank 2 first byte %d, got %d", want, got)
	}
	if cart.ReadPRG(0xC000) != lastBankByte {
		t.Error("last bank at $C000 should stay fixed after switching the first bank")
	}
}

func TestMapper003_ShouldSwitchCHRBank(t *testing.T) {
	data := buildINES(3, false, false, 1, 4, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cart.WritePRG(0x8000, 2)
	got := cart.ReadCHR(0)
	want := uint8(2*0x2000/0x0400) + 1 // chunk marker for CHR bank 2
	if got != want {
		t.Errorf("expected CHR bank 2 first byte %d, got %d", want, got)
	}
}

func TestMapper001_ShouldLatchControlOnFifthWrite(t *testing.T) {
	data := buildINES(1, false, false, 4, 4, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := cart.mapper.(*Mapper001)

	// Serially write control=0x02 (vertical mirroring, PRG mode 0, CHR mode 0)
	// one bit per write, into the control register ($8000-$9FFF).
	value := uint8(0x02)
	for i := 0; i < 5; i++ {
		cart.WritePRG(0x8000, (value>>i)&0x01)
	}

	if m.mirrorBits() != 0x02 {
		t.Errorf("expected mirror bits 0x02, got 0x%02X", m.mirrorBits())
	}
	if cart.GetMirrorMode() != MirrorVertical {
		t.Errorf("expected vertical mirroring after control latch, got %v", cart.GetMirrorMode())
	}
}

func TestMapper001_ShouldResetShiftRegisterOnHighBitWrite(t *testing.T) {
	data := buildINES(1, false, false, 4, 4, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := cart.mapper.(*Mapper001)

	cart.WritePRG(0x8000, 0x01)
	cart.WritePRG(0x8000, 0x01)
	cart.WritePRG(0x8000, 0x80) // reset

	if m.shiftCount != 0 || m.shift != 0 {
		t.Errorf("expected shift register reset, got shift=%d count=%d", m.shift, m.shiftCount)
	}
	if m.prgMode() != 3 {
		t.Errorf("expected PRG mode forced to 3 (fix last bank) after reset, got %d", m.prgMode())
	}
}

func TestMapper004_ShouldClockIRQOnScanlineTick(t *testing.T) {
	data := buildINES(4, false, false, 4, 8, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := cart.mapper.(*Mapper004)

	// Set the IRQ latch to 1 so the very next scanline tick fires.
	cart.WritePRG(0xC000, 1) // IRQ latch = 1
	cart.WritePRG(0xC001, 0) // force reload
	cart.WritePRG(0xE001, 0) // enable IRQ

	cart.ScanlineTick() // reload from latch (1) since irqReload is set

	if m.irqCounter != 1 {
		t.Fatalf("expected counter reloaded to 1, got %d", m.irqCounter)
	}

	cart.ScanlineTick() // counter 1 -> 0, IRQ fires

	if !cart.IRQPending() {
		t.Error("expected IRQ pending after counter reaches zero with IRQs enabled")
	}

	cart.ClearIRQ()
	if cart.IRQPending() {
		t.Error("expected IRQ cleared after ClearIRQ")
	}
}

func TestMapper004_IRQDisableShouldSuppressAndAck(t *testing.T) {
	data := buildINES(4, false, false, 4, 8, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cart.WritePRG(0xC000, 0) // latch = 0, so next reload fires immediately
	cart.WritePRG(0xC001, 0)
	cart.WritePRG(0xE001, 0) // enable
	cart.ScanlineTick()      // reload to 0, fires

	if !cart.IRQPending() {
		t.Fatal("expected IRQ pending")
	}

	cart.WritePRG(0xE000, 0) // disable + acknowledge
	if cart.IRQPending() {
		t.Error("writing $E000 should disable and acknowledge the IRQ")
	}
}

func TestMapper004_ScanlineTick_ShouldNotFireWhenNotEnabled(t *testing.T) {
	data := buildINES(4, false, false, 4, 8, false)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cart.WritePRG(0xC000, 0) // latch = 0
	cart.WritePRG(0xC001, 0) // force reload
	cart.ScanlineTick()      // reload to 0, but IRQ disabled by default

	if cart.IRQPending() {
		t.Error("expected no IRQ before $E001 enables it")
	}
}
