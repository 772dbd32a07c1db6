package memory

import "testing"

func TestMemory_RAM_ShouldMirrorEvery2KB(t *testing.T) {
	m := New(nil, nil, nil)

	m.Write(0x0000, 0x42)

	if got := m.Read(0x0800); got != 0x42 {
		t.Errorf("expected mirror at $0800 to read 0x42, got 0x%02X", got)
	}
	if got := m.Read(0x1800); got != 0x42 {
		t.Errorf("expected mirror at $1800 to read 0x42, got 0x%02X", got)
	}
}

func TestMemory_SnapshotRestore_ShouldRoundTripRAM(t *testing.T) {
	m := New(nil, nil, nil)
	m.Write(0x0010, 0xAB)

	snap := m.Snapshot()

	other := New(nil, nil, nil)
	other.Restore(snap)

	if got := other.Read(0x0010); got != 0xAB {
		t.Errorf("expected restored RAM byte 0xAB, got 0x%02X", got)
	}
}

func TestPPUMemory_SnapshotRestore_ShouldRoundTripVRAMAndPalette(t *testing.T) {
	pm := NewPPUMemory(nil, MirrorVertical)
	pm.Write(0x2000, 0x11)
	pm.Write(0x3F00, 0x22)

	snap := pm.Snapshot()

	other := NewPPUMemory(nil, MirrorHorizontal)
	other.Restore(snap)

	if other.mirroring != MirrorVertical {
		t.Errorf("expected restored mirroring mode MirrorVertical, got %v", other.mirroring)
	}
	if got := other.Read(0x2000); got != 0x11 {
		t.Errorf("expected restored nametable byte 0x11, got 0x%02X", got)
	}
	if got := other.readPalette(0x3F00); got != 0x22 {
		t.Errorf("expected restored palette byte 0x22, got 0x%02X", got)
	}
}
