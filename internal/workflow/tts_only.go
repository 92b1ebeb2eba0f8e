package workflow

import (
	"context"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/provider"
)

// runTTSOnly is the "tts" workflow: no text generation at all,
// text_not_requested fires immediately, and the dispatcher drives the TTS
// orchestrator directly against req.Prompt as the complete input text,
// delivered through the same tee path the text workflow uses so the
// orchestrator's buffered/duplex dispatch logic is exercised identically.
func (d *Dispatcher) runTTSOnly(ctx context.Context, req Request, prov Providers) {
	d.markTextDone(false)

	if prov.TTS == nil {
		d.markTTSDone(false)
		return
	}

	d.ensureTTSQueue()
	go func() {
		if req.Prompt != "" {
			d.bus.Send(event.New(event.TypeTextChunk, map[string]any{"content": req.Prompt}), bus.ModeTTSOnly)
		}
		d.bus.CloseTTSInput()
	}()

	settings := provider.TTSSettings{Voice: req.TTS.Voice, Model: req.TTS.Model}
	d.runTTSFor(ctx, prov, settings, req.TTS.Persist)
}
