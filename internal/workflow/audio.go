package workflow

import (
	"context"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/provider"
	"golang.org/x/sync/errgroup"
)

// runAudio is the "audio" workflow: transcribe inbound PCM frames via the
// STT provider, emitting partial/final transcription events, then hand
// the finalized transcript to the same text pipeline runText uses
// (tool-call pause/resume, persistence, optional concurrent TTS) so audio
// and text converge on one code path past transcription.
func (d *Dispatcher) runAudio(ctx context.Context, req Request, prov Providers) {
	if prov.STT == nil {
		d.bus.Send(event.New(event.TypeError, map[string]any{"message": "no speech-to-text provider configured"}).WithStage("audio"), bus.ModeAll)
		d.markTextDone(false)
		d.markTTSDone(false)
		return
	}

	transcript, ok := d.transcribe(ctx, &req, prov)
	if !ok {
		d.handleCancellation()
		return
	}

	req.Prompt = transcript
	d.runTextPersisting(ctx, req, prov, false)
}

// transcribe drains the runtime's inbound audio queue through the STT
// provider until the caller closes it (a session supervisor cleanup
// obligation), emitting a transcription event per partial and returning the
// finalized transcript. The finalized transcript is the user's turn for
// this request, so it is persisted here, before the text pipeline starts
// generating a reply; req.SessionID is updated to the resolved session so
// the assistant's reply that follows lands in the same session.
func (d *Dispatcher) transcribe(ctx context.Context, req *Request, prov Providers) (string, bool) {
	partials, errs := prov.STT.TranscribeStream(ctx, d.rt.AudioFrames())

	for {
		select {
		case <-d.rt.Done():
			return "", false
		case p, ok := <-partials:
			if !ok {
				final, err := prov.STT.Finalize(ctx)
				if err != nil {
					d.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("audio"), bus.ModeAll)
					return "", false
				}
				d.bus.Send(event.New(event.TypeTranscriptionDone, map[string]any{"text": final}), bus.ModeAll)
				req.SessionID = d.persistTurn(ctx, *req, "user", final)
				return final, true
			}
			d.bus.Send(event.New(event.TypeTranscription, map[string]any{"text": p.Text, "final": p.Final}), bus.ModeAll)
		case err, ok := <-errs:
			if ok && err != nil {
				d.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("audio"), bus.ModeAll)
				return "", false
			}
		}
	}
}

// runAudioDirect is the "audio_direct" workflow: inbound audio frames go
// straight to a MultimodalTextProvider's StreamWithAudio, skipping the STT
// pass entirely.
func (d *Dispatcher) runAudioDirect(ctx context.Context, req Request, prov Providers) {
	if prov.Multimodal == nil {
		d.bus.Send(event.New(event.TypeError, map[string]any{"message": "no multimodal audio-input provider configured"}).WithStage("audio_direct"), bus.ModeAll)
		d.markTextDone(false)
		d.markTTSDone(false)
		return
	}

	ttsEnabled := req.TTS.Enabled() && prov.TTS != nil
	if ttsEnabled {
		d.ensureTTSQueue()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.streamMultimodal(gctx, req, prov, ttsEnabled)
		return nil
	})
	if ttsEnabled {
		g.Go(func() error {
			d.runTTSFor(gctx, prov, provider.TTSSettings{Voice: req.TTS.Voice, Model: req.TTS.Model}, req.TTS.Persist)
			return nil
		})
	} else {
		d.markTTSDone(false)
	}
	_ = g.Wait()
}

func (d *Dispatcher) streamMultimodal(ctx context.Context, req Request, prov Providers, closeTTSInput bool) {
	if closeTTSInput {
		defer d.bus.CloseTTSInput()
	}

	req.SessionID = d.persistTurn(ctx, req, "user", req.Prompt)

	deltas, errs := prov.Multimodal.StreamWithAudio(ctx, d.rt.AudioFrames(), nil, req.TextSettings)
	var fullText string
	// Tool calls are not supported on this path: a multimodal audio stream
	// has no turn boundary to resume from after a pause, so tool-call deltas
	// are discarded here and never emit a tool_start.
	textOnly := make(chan provider.TextDelta)
	go func() {
		defer close(textOnly)
		for dl := range deltas {
			if dl.ToolCall != nil {
				continue
			}
			select {
			case textOnly <- dl:
			case <-ctx.Done():
				return
			}
		}
	}()
	_, cancelledMidStream, err := d.consumeTextDeltas(ctx, textOnly, errs, &fullText)
	if err != nil {
		d.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("audio_direct"), bus.ModeAll)
		d.markTextDone(false)
		return
	}
	if cancelledMidStream {
		d.handleCancellation()
		return
	}

	d.persistTurn(ctx, req, "assistant", fullText)
	d.bus.Send(event.New(event.TypeTextCompleted, map[string]any{"text": fullText}), bus.ModeAll)
	d.markTextDone(true)
}
