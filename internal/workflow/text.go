package workflow

import (
	"context"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/provider"
	"golang.org/x/sync/errgroup"
)

// runText is the text workflow: stream from the text provider, tee chunks
// to the bus (which tees non-whitespace content to the TTS queue on its
// own), pausing on tool calls until the client submits results, then run
// TTS concurrently with text generation when enabled.
func (d *Dispatcher) runText(ctx context.Context, req Request, prov Providers) {
	d.runTextPersisting(ctx, req, prov, true)
}

// runTextPersisting is runText's implementation, parameterized on whether
// the user's turn still needs persisting. The audio workflow already
// persists the finalized transcript as the user turn inside transcribe
// before handing off here, so it passes persistUser=false to avoid writing
// the same turn twice.
func (d *Dispatcher) runTextPersisting(ctx context.Context, req Request, prov Providers, persistUser bool) {
	ttsEnabled := req.TTS.Enabled() && prov.TTS != nil
	if ttsEnabled {
		// Must be registered before the first text_chunk.
		d.ensureTTSQueue()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.streamText(gctx, req, prov, ttsEnabled, persistUser)
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

// streamText drives one (possibly multi-turn, across tool calls) pass of
// the text provider and marks the text side of the dual-flag contract.
// closeTTSInput, when true, closes the bus's TTS queue the moment text
// production ends on every return path, so a concurrently-running TTS
// orchestrator (buffered or duplex) is never left blocked waiting for EOS
// once there is no more text coming (see bus.CloseTTSInput). persistUser,
// when true, appends the user's own prompt before generation starts and
// carries forward the session ID that ensure_session resolves, so the
// assistant's reply lands in the same session rather than minting a
// second one.
func (d *Dispatcher) streamText(ctx context.Context, req Request, prov Providers, closeTTSInput, persistUser bool) {
	if closeTTSInput {
		defer d.bus.CloseTTSInput()
	}

	if persistUser {
		req.SessionID = d.persistTurn(ctx, req, "user", req.Prompt)
	}

	if prov.Text == nil {
		d.markTextDone(false)
		return
	}

	history := []provider.Message{}
	prompt := req.Prompt
	var fullText string

	for {
		deltas, errs := prov.Text.Stream(ctx, prompt, history, req.TextSettings)
		toolCall, cancelledMidStream, err := d.consumeTextDeltas(ctx, deltas, errs, &fullText)
		if err != nil {
			d.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("text"), bus.ModeAll)
			d.markTextDone(false)
			return
		}
		if cancelledMidStream {
			d.handleCancellation()
			return
		}
		if toolCall == nil {
			break
		}

		result, ok := d.awaitToolResult(ctx)
		if !ok {
			d.handleCancellation()
			return
		}
		d.bus.Send(event.New(event.TypeToolResult, map[string]any{
			"call_id": toolCall.ID,
			"output": result.Output,
		}), bus.ModeAll)

		history = append(history,
			provider.Message{Role: "assistant", Content: toolCall.Arguments},
			provider.Message{Role: "tool", Content: result.Output},
		)
		prompt = ""
	}

	d.persistTurn(ctx, req, "assistant", fullText)
	d.bus.Send(event.New(event.TypeTextCompleted, map[string]any{"text": fullText}), bus.ModeAll)
	d.markTextDone(true)
}

// consumeTextDeltas pumps one Stream() call's channels until Done, a tool
// call pause, an error, or cancellation.
func (d *Dispatcher) consumeTextDeltas(ctx context.Context, deltas <-chan provider.TextDelta, errs <-chan error, fullText *string) (*provider.ToolCallDelta, bool, error) {
	for {
		select {
		case <-d.rt.Done():
			return nil, true, nil
		case delta, ok := <-deltas:
			if !ok {
				// An error queued before the delta channel closed still
				// fails the stream rather than reading as a clean end.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return nil, false, err
					}
				default:
				}
				return nil, false, nil
			}
			if delta.RequiresToolAction && delta.ToolCall != nil {
				d.bus.Send(event.New(event.TypeToolStart, map[string]any{
					"call_id": delta.ToolCall.ID,
					"name": delta.ToolCall.Name,
					"args": delta.ToolCall.Arguments,
				}), bus.ModeAll)
				return delta.ToolCall, false, nil
			}
			if delta.Content != "" {
				*fullText += delta.Content
				d.bus.Send(event.New(event.TypeTextChunk, map[string]any{"content": delta.Content}), bus.ModeAll)
			}
			if delta.ThinkingContent != "" {
				d.bus.Send(event.New(event.TypeThinkingChunk, map[string]any{"content": delta.ThinkingContent}), bus.ModeAll)
			}
			if delta.Done {
				return nil, false, nil
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				return nil, false, err
			}
		}
	}
}

// awaitToolResult blocks for a client-submitted tool result, honoring
// cancellation.
func (d *Dispatcher) awaitToolResult(ctx context.Context) (toolResultOrZero, bool) {
	select {
	case <-d.rt.Done():
		return toolResultOrZero{}, false
	case <-ctx.Done():
		return toolResultOrZero{}, false
	case tr := <-d.rt.ToolResults():
		return toolResultOrZero{Output: tr.Output}, true
	}
}

type toolResultOrZero struct {
	Output string
}
