package app

import (
	"log"

	"github.com/example/gones-nes/internal/cpu"
	"github.com/example/gones-nes/internal/ppu"
)

// cpuLogTracer routes CPU trace events through the standard logger, taking
// over the role the teacher's scattered cpu.go fmt.Printf debug lines used
// to play. It's installed only when -debug is passed.
type cpuLogTracer struct{}

func (cpuLogTracer) Trace(event cpu.TraceEvent) {
	log.Printf("[CPU] %s PC=$%04X %s", event.Kind, event.PC, event.Name)
}

// ppuLogTracer is the PPU-side counterpart of cpuLogTracer.
type ppuLogTracer struct{}

func (ppuLogTracer) Trace(event ppu.TraceEvent) {
	log.Printf("[PPU] %s scanline=%d cycle=%d", event.Kind, event.Scanline, event.Cycle)
}
