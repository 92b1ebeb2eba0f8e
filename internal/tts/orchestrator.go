// Package tts implements the TTS orchestrator: it drains a bus-side text
// queue, drives either a duplex streaming provider or a buffered-fallback
// provider, and emits the ordered lifecycle events tts_started <
// audio_chunk* < tts_generation_completed < tts_completed < (optional)
// tts_file_uploaded, behind the provider.TTSProvider/StreamingTTSProvider
// interfaces.
package tts

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
)

// ShouldEnable implements the decision rule from : parallel TTS
// runs iff tts_auto_execute is true and streaming isn't explicitly false.
func ShouldEnable(autoExecute bool, streamingExplicitlyFalse bool) bool {
	return autoExecute && !streamingExplicitlyFalse
}

// Orchestrator drives one request's TTS pipeline against a single bus.
type Orchestrator struct {
	b *bus.Bus
	prov provider.TTSProvider
	blob provider.BlobStore
	log *logger.Logger
}

// New creates an orchestrator. blob may be nil when persistence wasn't
// requested for this request.
func New(b *bus.Bus, prov provider.TTSProvider, blob provider.BlobStore, log *logger.Logger) *Orchestrator {
	return &Orchestrator{b: b, prov: prov, blob: blob, log: log}
}

// Result summarizes the run for the dispatcher's tts_generation_completed
// counters and for deciding whether persistence occurred.
type Result struct {
	AudioChunkCount int
	TextChunkCount int
	UploadedURL string
	Failed bool
}

// Run drains queue to completion, emitting every lifecycle event along the
// way. It never returns an error: provider failures are reported as
// tts_error custom events and the function still
// completes normally so the dispatcher's dual-flag contract can progress.
func (o *Orchestrator) Run(ctx context.Context, queue *bus.TTSQueue, settings provider.TTSSettings, persist bool) Result {
	caps := o.prov.Capabilities()

	o.b.Send(event.New(event.TypeTTSStarted, map[string]any{
		"voice": settings.Voice,
	}).WithProviderModel("", settings.Model), bus.ModeAll)

	var result Result
	var audioBuf bytes.Buffer

	streamer, supportsDuplex := o.prov.(provider.StreamingTTSProvider)
	if supportsDuplex && caps.SupportsInputStream {
		result = o.runDuplex(ctx, queue, streamer, settings, &audioBuf)
	} else {
		result = o.runBuffered(ctx, queue, settings, &audioBuf)
	}

	o.b.Send(event.New(event.TypeTTSGenerationDone, map[string]any{
		"audio_chunk_count": result.AudioChunkCount,
		"text_chunk_count": result.TextChunkCount,
	}), bus.ModeAll)

	o.b.Send(event.New(event.TypeTTSCompleted, map[string]any{
		"failed": result.Failed,
	}), bus.ModeAll)

	if persist && o.blob != nil && audioBuf.Len() > 0 {
		url, err := o.blob.Put(ctx, "", bytes.NewReader(audioBuf.Bytes()), "audio/"+string(caps.AudioFormat))
		if err != nil {
			o.log.Error("tts audio upload failed", slog.String("error", err.Error()))
		} else {
			result.UploadedURL = url
			o.b.Send(event.New(event.TypeTTSFileUploaded, map[string]any{"url": url}), bus.ModeAll)
		}
	}

	return result
}

// runDuplex feeds the queue's text fragments into the duplex provider as
// they arrive and emits audio_chunk events as frames come back, matching
// step 2.a's two-concurrent-subtask shape (the provider adapter
// itself owns the send/receive goroutines; this loop only bridges the
// bus's TTSItem shape to the provider's plain string channel).
func (o *Orchestrator) runDuplex(ctx context.Context, queue *bus.TTSQueue, streamer provider.StreamingTTSProvider, settings provider.TTSSettings, audioBuf *bytes.Buffer) Result {
	textIn := make(chan string, 32)
	textChunkCount := 0

	go func() {
		defer close(textIn)
		for item := range queue.Items() {
			if item.EOS {
				return
			}
			textChunkCount++
			select {
			case textIn <- item.Text:
			case <-ctx.Done():
				return
			}
		}
	}()

	out, errs := streamer.StreamFromTextQueue(ctx, textIn, settings)
	result := o.drainAudio(out, errs, audioBuf)
	result.TextChunkCount = textChunkCount
	return result
}

// runBuffered drains the queue fully before calling the provider's
// mandatory buffered path.
func (o *Orchestrator) runBuffered(ctx context.Context, queue *bus.TTSQueue, settings provider.TTSSettings, audioBuf *bytes.Buffer) Result {
	var text bytes.Buffer
	textChunkCount := 0

	for item := range queue.Items() {
		if item.EOS {
			break
		}
		textChunkCount++
		text.WriteString(item.Text)
	}

	out, errs := o.prov.StreamBuffered(ctx, text.String(), settings)
	result := o.drainAudio(out, errs, audioBuf)
	result.TextChunkCount = textChunkCount
	return result
}

func (o *Orchestrator) drainAudio(out <-chan provider.AudioChunk, errs <-chan error, audioBuf *bytes.Buffer) Result {
	var result Result
	for out != nil || errs != nil {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if chunk.Final {
				continue
			}
			result.AudioChunkCount++
			audioBuf.Write(chunk.Data)
			o.b.Send(event.New(event.TypeAudioChunk, map[string]any{
				"data": chunk.Data,
			}), bus.ModeAll)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			result.Failed = true
			o.log.Error("tts provider error", slog.String("error", err.Error()))
			o.b.Send(event.Custom("tts_error", map[string]any{"message": err.Error()}), bus.ModeAll)
		}
	}
	return result
}
