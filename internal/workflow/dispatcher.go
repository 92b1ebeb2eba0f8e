package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iammarcin/streamgate/internal/apierr"
	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/completion"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/persistence"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/runtime"
	"github.com/iammarcin/streamgate/internal/tts"
)

// Providers bundles the resolved adapters a single request needs. The
// dispatcher never talks to the provider.Registry directly — resolution by
// model alias happens one layer up (the caller owns config/registry
// wiring); this keeps the dispatcher's dependency surface to exactly the
// interfaces this package defines.
type Providers struct {
	Text provider.TextProvider
	Multimodal provider.MultimodalTextProvider // non-nil only for audio_direct
	TTS provider.TTSProvider
	STT provider.STTProvider
	Blob provider.BlobStore
	Realtime provider.RealtimeProvider // non-nil only for the realtime workflow
}

// Dispatcher is the sole holder of the bus's completion token for one
// request. A fresh Dispatcher is created per request by the
// session supervisor.
type Dispatcher struct {
	bus *bus.Bus
	rt *runtime.Runtime
	token *completion.Token
	store *persistence.Store
	log *logger.Logger

	textDone bool
	ttsDone bool

	ttsQueueMu sync.Mutex
	ttsQueue *bus.TTSQueue
}

// New creates a dispatcher and mints its completion token from b. Exactly
// one Dispatcher may exist per active bus — enforced by the session
// supervisor never starting a second workflow task before the prior one's
// runtime.ClearTask, not by this constructor.
func New(b *bus.Bus, rt *runtime.Runtime, store *persistence.Store, log *logger.Logger) *Dispatcher {
	return &Dispatcher{bus: b, rt: rt, token: b.CreateToken(), store: store, log: log}
}

// Dispatch runs the workflow named by req.Type to completion. It never
// returns an error to the caller for provider/runtime failures — those are
// reported as error events and still drive the dual-flag contract to
// completion; a non-nil return indicates a request the dispatcher refused
// to even start (unknown request type).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, prov Providers) error {
	defer d.finish(ctx)

	switch req.Type {
	case TypeText:
		d.runText(ctx, req, prov)
	case TypeAudio:
		d.runAudio(ctx, req, prov)
	case TypeAudioDirect:
		d.runAudioDirect(ctx, req, prov)
	case TypeTTS:
		d.runTTSOnly(ctx, req, prov)
	case TypeRealtime:
		d.runRealtime(ctx, req, prov)
	default:
		d.bus.Send(apierr.ToEvent(apierr.KindValidation, "validation", fmt.Sprintf("unknown request_type %q", req.Type)), bus.ModeAll)
		d.markTextDone(false)
		d.markTTSDone(false)
		return fmt.Errorf("workflow: unknown request type %q", req.Type)
	}
	return nil
}

// markTextDone emits the text-side terminal event and tracks completion
// for the dual-flag contract.
func (d *Dispatcher) markTextDone(requested bool) {
	if d.textDone {
		return
	}
	d.textDone = true
	if requested {
		return // caller already sent text_completed with its own payload
	}
	d.bus.Send(event.New(event.TypeTextNotRequested, nil), bus.ModeAll)
}

// markTTSDone emits the TTS-side terminal event and tracks completion for
// the dual-flag contract.
func (d *Dispatcher) markTTSDone(requested bool) {
	if d.ttsDone {
		return
	}
	d.ttsDone = true
	if requested {
		return
	}
	d.bus.Send(event.New(event.TypeTTSNotRequested, nil), bus.ModeAll)
}

// persistTurn runs ensure_session/append_message/emit_db_event and returns
// the effective session ID. Persistence failures are non-terminal: logged,
// surfaced as a db_operation_executed with a failure flag, and the
// workflow proceeds regardless. The client-supplied message ID only ever
// applies to the user's own turn: it is what makes a resubmitted user
// message idempotent, and reusing it for the assistant's reply would
// collide on the same row and silently drop the reply.
func (d *Dispatcher) persistTurn(ctx context.Context, req Request, role, content string) string {
	if d.store == nil {
		return req.SessionID
	}

	sessionID, err := d.store.EnsureSession(ctx, req.CustomerID, req.SessionID)
	if err != nil {
		d.log.Error("ensure_session failed", slog.String("error", err.Error()))
		// A client-supplied session ID that doesn't exist, or belongs to a
		// different customer, arrives here as a grpc status error (see
		// persistence.Store.EnsureSession); anything else is a plain
		// persistence failure.
		d.bus.Send(apierr.ToEvent(apierr.KindFromGRPC(err), "persistence", err.Error()), bus.ModeAll)
		return req.SessionID
	}

	msg := persistence.PendingMessage{
		SessionID: sessionID,
		Role: role,
		Content: content,
	}
	if role == "user" {
		msg.ClientMsgID = req.ClientMessageID
		msg.Attachments = attachmentsFromParts(req.Parts)
	}

	_, err = d.store.AppendMessage(ctx, msg)
	success := err == nil
	if err != nil {
		d.log.Error("append_message failed", slog.String("error", err.Error()))
	}

	// emit_db_event must precede signal_completion.
	// This call only ever happens from within a workflow, strictly before
	// d.finish below calls SignalCompletion.
	d.bus.Send(event.New(event.TypeDBOperationExecuted, map[string]any{
		"session_id": sessionID,
		"success": success,
	}), bus.ModeAll)

	return sessionID
}

// attachmentsFromParts converts a multi-part prompt's image/file references
// into persistence attachment records; plain-text parts carry nothing here
// since their text already lives in the message content.
func attachmentsFromParts(parts []PromptPart) []persistence.Attachment {
	var out []persistence.Attachment
	for _, p := range parts {
		if p.ImageURL != "" {
			out = append(out, persistence.Attachment{URL: p.ImageURL, ContentType: "image"})
		}
		if p.FileURL != "" {
			out = append(out, persistence.Attachment{URL: p.FileURL, ContentType: "file"})
		}
	}
	return out
}

// cancelled reports whether the runtime's level-triggered cancel signal is
// set, for the workflows' suspension-point polling.
func (d *Dispatcher) cancelled() bool {
	return d.rt.Cancelled()
}

// handleCancellation emits the cancelled event and the still-missing
// dual-flag terminals along the cancellation path.
func (d *Dispatcher) handleCancellation() {
	d.bus.Send(event.New(event.TypeCancelled, nil), bus.ModeAll)
	d.markTextDone(false)
	d.markTTSDone(false)
}

// finish closes out the dual-flag contract defensively (in case a workflow
// returned early without completing both sides, e.g. on an unrecoverable
// provider error) and signals completion exactly once. Ordering rule: any
// trailing custom_event or persistence event must already have been sent
// by the workflow before finish runs.
func (d *Dispatcher) finish(ctx context.Context) {
	if !d.textDone {
		d.markTextDone(false)
	}
	if !d.ttsDone {
		d.markTTSDone(false)
	}
	if err := d.bus.SignalCompletion(d.token); err != nil {
		d.log.Error("signal_completion rejected", slog.String("error", err.Error()))
		d.bus.Send(apierr.ToEvent(apierr.KindFromGRPC(err), "completion", err.Error()), bus.ModeAll)
	}
}

// ensureTTSQueue registers the bus's TTS queue at most once per dispatcher,
// so a workflow that both tees live text_chunk content into it (runText)
// and later drives an orchestrator against it (runTTSFor) always agree on
// the same queue instance.
func (d *Dispatcher) ensureTTSQueue() *bus.TTSQueue {
	d.ttsQueueMu.Lock()
	defer d.ttsQueueMu.Unlock()
	if d.ttsQueue == nil {
		d.ttsQueue = d.bus.RegisterTTSQueue(0)
	}
	return d.ttsQueue
}

// runTTSFor drives the TTS orchestrator against the bus's registered TTS
// queue and marks the TTS side of the dual-flag contract done. Shared by
// the text and tts workflows.
func (d *Dispatcher) runTTSFor(ctx context.Context, prov Providers, settings provider.TTSSettings, persist bool) {
	if prov.TTS == nil {
		d.markTTSDone(false)
		return
	}
	q := d.ensureTTSQueue()
	orch := tts.New(d.bus, prov.TTS, prov.Blob, d.log)
	orch.Run(ctx, q, settings, persist)
	d.markTTSDone(true)
}
