// Package app provides save state functionality for the NES emulator.
package app

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/gones-nes/internal/apu"
	"github.com/example/gones-nes/internal/bus"
	"github.com/example/gones-nes/internal/cpu"
	"github.com/example/gones-nes/internal/memory"
	"github.com/example/gones-nes/internal/ppu"
)

// StateManager manages save states
type StateManager struct {
	saveDirectory string
	maxSlots      int
	initialized   bool
}

// SaveState is the full gob-serializable record written to a slot file.
// Unlike the earlier JSON-based format this carries a real snapshot of
// every subsystem, not just the handful of fields a debug view needs.
type SaveState struct {
	Version     string
	Timestamp   time.Time
	ROMPath     string
	ROMChecksum string
	SlotNumber  int
	Description string

	CPU       cpu.Snapshot
	PPU       ppu.Snapshot
	PPUMemory memory.PPUMemorySnapshot
	APU       apu.Snapshot
	RAM       [0x800]uint8
	SRAM      [0x2000]uint8

	FrameCount uint64
	CycleCount uint64
}

// StateSlotInfo contains information about a save state slot
type StateSlotInfo struct {
	SlotNumber  int
	Used        bool
	Timestamp   time.Time
	ROMPath     string
	Description string
	FilePath    string
	FileSize    int64
}

// NewStateManager creates a new state manager
func NewStateManager(saveDirectory string) *StateManager {
	manager := &StateManager{
		saveDirectory: saveDirectory,
		maxSlots:      10, // Default to 10 save slots
		initialized:   false,
	}

	if err := manager.initialize(); err != nil {
		fmt.Printf("Warning: state manager initialization failed: %v\n", err)
	}

	return manager
}

// initialize initializes the state manager
func (sm *StateManager) initialize() error {
	if err := os.MkdirAll(sm.saveDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}

	sm.initialized = true
	return nil
}

// SaveState saves the current emulator state to a slot
func (sm *StateManager) SaveState(b *bus.Bus, slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d (must be 0-%d)", slot, sm.maxSlots-1)
	}

	if b == nil {
		return fmt.Errorf("bus cannot be nil")
	}

	state := &SaveState{
		Version:     "2.0",
		Timestamp:   time.Now(),
		ROMPath:     romPath,
		ROMChecksum: sm.calculateROMChecksum(romPath),
		SlotNumber:  slot,
		Description: fmt.Sprintf("Save %s", time.Now().Format("2006-01-02 15:04:05")),
		FrameCount:  b.GetFrameCount(),
		CycleCount:  b.GetCycleCount(),

		CPU: b.CPU.Snapshot(),
		PPU: b.PPU.Snapshot(),
		APU: b.APU.Snapshot(),
		RAM: b.Memory.Snapshot(),
	}

	if mem := b.PPU.GetMemory(); mem != nil {
		state.PPUMemory = mem.Snapshot()
	}
	if cart := b.GetCartridge(); cart != nil {
		state.SRAM = cart.SRAMSnapshot()
	}

	filePath := sm.getSlotFilePath(slot, romPath)
	if err := sm.saveToFile(state, filePath); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// LoadState loads a saved state from a slot
func (sm *StateManager) LoadState(b *bus.Bus, slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d (must be 0-%d)", slot, sm.maxSlots-1)
	}

	if b == nil {
		return fmt.Errorf("bus cannot be nil")
	}

	filePath := sm.getSlotFilePath(slot, romPath)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("save state not found in slot %d", slot)
	}

	state, err := sm.loadFromFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	if err := sm.validateSaveState(state, romPath); err != nil {
		return fmt.Errorf("invalid save state: %w", err)
	}

	sm.restoreState(b, state)

	return nil
}

// saveToFile gob-encodes a state and writes it to a file
func (sm *StateManager) saveToFile(state *SaveState, filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// loadFromFile reads and gob-decodes a state from a file
func (sm *StateManager) loadFromFile(filePath string) (*SaveState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var state SaveState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return &state, nil
}

// validateSaveState validates a loaded save state
func (sm *StateManager) validateSaveState(state *SaveState, currentROMPath string) error {
	if state.Version == "" {
		return fmt.Errorf("missing version information")
	}

	if state.ROMPath != currentROMPath {
		return fmt.Errorf("save state is for a different ROM")
	}

	return nil
}

// restoreState restores emulator state from a save state. Mapper
// bank-select registers (MMC1's shift register, MMC3's IRQ counter and
// bank table) aren't part of the snapshot, so a restored game resumes
// with those at power-up defaults; PRG-RAM contents and CPU/PPU/APU
// timing state are exact.
func (sm *StateManager) restoreState(b *bus.Bus, state *SaveState) {
	b.CPU.Restore(state.CPU)
	b.PPU.Restore(state.PPU)
	b.APU.Restore(state.APU)
	b.Memory.Restore(state.RAM)

	if mem := b.PPU.GetMemory(); mem != nil {
		mem.Restore(state.PPUMemory)
	}
	if cart := b.GetCartridge(); cart != nil {
		cart.RestoreSRAM(state.SRAM)
	}
}

// getSlotFilePath generates the file path for a save slot
func (sm *StateManager) getSlotFilePath(slot int, romPath string) string {
	romName := filepath.Base(romPath)
	romNameWithoutExt := romName[:len(romName)-len(filepath.Ext(romName))]
	fileName := fmt.Sprintf("%s_slot_%d.save", romNameWithoutExt, slot)
	return filepath.Join(sm.saveDirectory, fileName)
}

// calculateROMChecksum calculates a checksum for ROM verification
func (sm *StateManager) calculateROMChecksum(romPath string) string {
	// Simplified checksum - in a real implementation,
	// you would calculate MD5/SHA256 of the ROM file
	return fmt.Sprintf("checksum_%s", filepath.Base(romPath))
}

// GetSlotInfo returns information about all save slots
func (sm *StateManager) GetSlotInfo(romPath string) []StateSlotInfo {
	slots := make([]StateSlotInfo, sm.maxSlots)

	for i := 0; i < sm.maxSlots; i++ {
		slotInfo := StateSlotInfo{
			SlotNumber: i,
			Used:       false,
		}

		filePath := sm.getSlotFilePath(i, romPath)
		if stat, err := os.Stat(filePath); err == nil {
			slotInfo.Used = true
			slotInfo.FilePath = filePath
			slotInfo.FileSize = stat.Size()
			slotInfo.Timestamp = stat.ModTime()

			if state, err := sm.loadFromFile(filePath); err == nil {
				slotInfo.ROMPath = state.ROMPath
				slotInfo.Description = state.Description
				slotInfo.Timestamp = state.Timestamp
			}
		}

		slots[i] = slotInfo
	}

	return slots
}

// DeleteState deletes a save state from a slot
func (sm *StateManager) DeleteState(slot int, romPath string) error {
	if !sm.initialized {
		return fmt.Errorf("state manager not initialized")
	}

	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("invalid save slot: %d", slot)
	}

	filePath := sm.getSlotFilePath(slot, romPath)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("save state not found in slot %d", slot)
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete save state: %w", err)
	}

	return nil
}

// HasSaveState checks if a save state exists in a slot
func (sm *StateManager) HasSaveState(slot int, romPath string) bool {
	if slot < 0 || slot >= sm.maxSlots {
		return false
	}

	filePath := sm.getSlotFilePath(slot, romPath)
	_, err := os.Stat(filePath)
	return err == nil
}

// GetMaxSlots returns the maximum number of save slots
func (sm *StateManager) GetMaxSlots() int {
	return sm.maxSlots
}

// SetMaxSlots sets the maximum number of save slots
func (sm *StateManager) SetMaxSlots(slots int) {
	if slots > 0 {
		sm.maxSlots = slots
	}
}

// GetSaveDirectory returns the save directory path
func (sm *StateManager) GetSaveDirectory() string {
	return sm.saveDirectory
}

// SetSaveDirectory sets the save directory path
func (sm *StateManager) SetSaveDirectory(directory string) error {
	sm.saveDirectory = directory
	return sm.initialize()
}

// ExportState exports a save state to a specific file
func (sm *StateManager) ExportState(b *bus.Bus, filePath string, romPath string) error {
	state := &SaveState{
		Version:     "2.0",
		Timestamp:   time.Now(),
		ROMPath:     romPath,
		ROMChecksum: sm.calculateROMChecksum(romPath),
		SlotNumber:  -1, // Export doesn't use slots
		Description: fmt.Sprintf("Export %s", time.Now().Format("2006-01-02 15:04:05")),
		FrameCount:  b.GetFrameCount(),
		CycleCount:  b.GetCycleCount(),

		CPU: b.CPU.Snapshot(),
		PPU: b.PPU.Snapshot(),
		APU: b.APU.Snapshot(),
		RAM: b.Memory.Snapshot(),
	}

	if mem := b.PPU.GetMemory(); mem != nil {
		state.PPUMemory = mem.Snapshot()
	}
	if cart := b.GetCartridge(); cart != nil {
		state.SRAM = cart.SRAMSnapshot()
	}

	return sm.saveToFile(state, filePath)
}

// ImportState imports a save state from a specific file
func (sm *StateManager) ImportState(b *bus.Bus, filePath string, romPath string) error {
	state, err := sm.loadFromFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to import state: %w", err)
	}

	if err := sm.validateSaveState(state, romPath); err != nil {
		return fmt.Errorf("invalid imported state: %w", err)
	}

	sm.restoreState(b, state)
	return nil
}

// Cleanup cleans up state manager resources
func (sm *StateManager) Cleanup() error {
	sm.initialized = false
	return nil
}

// GetStateManagerStats returns statistics about the state manager
func (sm *StateManager) GetStateManagerStats(romPath string) StateManagerStats {
	slots := sm.GetSlotInfo(romPath)

	var usedSlots int
	var totalSize int64
	for _, slot := range slots {
		if slot.Used {
			usedSlots++
			totalSize += slot.FileSize
		}
	}

	return StateManagerStats{
		MaxSlots:      sm.maxSlots,
		UsedSlots:     usedSlots,
		FreeSlots:     sm.maxSlots - usedSlots,
		TotalSize:     totalSize,
		SaveDirectory: sm.saveDirectory,
		Initialized:   sm.initialized,
	}
}

// StateManagerStats contains state manager statistics
type StateManagerStats struct {
	MaxSlots      int
	UsedSlots     int
	FreeSlots     int
	TotalSize     int64
	SaveDirectory string
	Initialized   bool
}
