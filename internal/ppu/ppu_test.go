package ppu

import "testing"

func TestNew_ShouldStartAtPreRenderScanline(t *testing.T) {
	p := New()

	if p.scanline != -1 {
		t.Errorf("expected scanline -1 at power-up, got %d", p.scanline)
	}
}

func TestWriteRegister_PPUADDR_ShouldLatchHighThenLowByte(t *testing.T) {
	p := New()

	p.WriteRegister(0x2006, 0x21) // high byte of $2108 -> t bits 8-13
	p.WriteRegister(0x2006, 0x08) // low byte

	if p.v != 0x2108 {
		t.Errorf("expected v=0x2108 after two $2006 writes, got 0x%04X", p.v)
	}
	if p.w {
		t.Error("expected write-toggle to clear after the second write")
	}
}

func TestWriteRegister_PPUSCROLL_ShouldSetFineXOnFirstWrite(t *testing.T) {
	p := New()

	p.WriteRegister(0x2005, 0x05) // X scroll = 5, fine X = 5&0x07
	if p.x != 0x05 {
		t.Errorf("expected fine X 5, got %d", p.x)
	}
	if !p.w {
		t.Error("expected write-toggle set after first $2005 write")
	}
}

func TestReadRegister_PPUSTATUS_ShouldClearVBlankAndWriteToggle(t *testing.T) {
	p := New()
	p.ppuStatus = 0x80
	p.w = true

	status := p.ReadRegister(0x2002)

	if status&0x80 == 0 {
		t.Error("expected VBlank bit set in the returned status byte")
	}
	if p.IsVBlank() {
		t.Error("expected VBlank flag cleared by reading $2002")
	}
	if p.w {
		t.Error("expected write-toggle cleared by reading $2002")
	}
}

func TestScanlineIRQCallback_ShouldFireOnceAtDot260WhenRenderingEnabled(t *testing.T) {
	p := New()
	p.WriteRegister(0x2001, 0x08) // enable background rendering

	calls := 0
	p.SetScanlineIRQCallback(func() { calls++ })

	p.scanline, p.cycle = 0, 259
	p.Tick() // cycle becomes 260 on a visible scanline: callback fires

	if calls != 1 {
		t.Errorf("expected scanline IRQ callback to fire exactly once, got %d", calls)
	}
}

func TestScanlineIRQCallback_ShouldNotFireWhenRenderingDisabled(t *testing.T) {
	p := New()

	calls := 0
	p.SetScanlineIRQCallback(func() { calls++ })

	p.scanline, p.cycle = 0, 259
	p.Tick()

	if calls != 0 {
		t.Errorf("expected no scanline IRQ callback while rendering is disabled, got %d", calls)
	}
}

func TestSnapshotRestore_ShouldRoundTripRegistersAndOAM(t *testing.T) {
	p := New()
	p.ppuCtrl = 0x80
	p.v, p.t, p.x = 0x1234, 0x5678, 0x07
	p.scanline, p.cycle = 100, 200
	p.oam[0] = 0xAB
	p.sprite0Hit = true

	snap := p.Snapshot()

	other := New()
	other.Restore(snap)

	if other.ppuCtrl != 0x80 {
		t.Errorf("expected ppuCtrl 0x80, got 0x%02X", other.ppuCtrl)
	}
	if other.v != 0x1234 || other.t != 0x5678 || other.x != 0x07 {
		t.Errorf("loopy register state did not round-trip: v=0x%04X t=0x%04X x=%d", other.v, other.t, other.x)
	}
	if other.scanline != 100 || other.cycle != 200 {
		t.Errorf("expected scanline=100 cycle=200, got scanline=%d cycle=%d", other.scanline, other.cycle)
	}
	if other.oam[0] != 0xAB {
		t.Errorf("expected OAM[0]=0xAB, got 0x%02X", other.oam[0])
	}
	if !other.sprite0Hit {
		t.Error("expected sprite0Hit to round-trip as true")
	}
}
