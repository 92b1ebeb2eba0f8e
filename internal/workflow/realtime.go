package workflow

import (
	"context"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/provider"
)

// runRealtime is the "realtime" workflow: opens a bidirectional voice
// session against a realtime-capable provider and forwards inbound audio
// frames and outbound provider events verbatim, rather than composing the
// text/STT/TTS pipeline. Both dual-flag sides are marked not-requested: a
// realtime session owns its own turn-taking and has no separate
// text_completed/tts_completed moments in this gateway's event model.
func (d *Dispatcher) runRealtime(ctx context.Context, req Request, prov Providers) {
	defer d.markTextDone(false)
	defer d.markTTSDone(false)

	if prov.Realtime == nil {
		d.bus.Send(event.New(event.TypeError, map[string]any{"message": "no realtime-capable provider configured"}).WithStage("realtime"), bus.ModeAll)
		return
	}

	session, err := prov.Realtime.OpenRealtime(ctx)
	if err != nil {
		d.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("realtime"), bus.ModeAll)
		return
	}
	defer session.Close()

	stopAudioPump := d.pumpRealtimeAudioIn(ctx, session)
	defer close(stopAudioPump)

	d.forwardRealtimeEvents(session)
}

// pumpRealtimeAudioIn forwards runtime-ingested audio frames to the
// session until the returned channel is closed or the frame queue itself
// closes (a session supervisor cleanup obligation).
func (d *Dispatcher) pumpRealtimeAudioIn(ctx context.Context, session provider.RealtimeSession) chan struct{} {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-d.rt.Done():
				return
			case frame, ok := <-d.rt.AudioFrames():
				if !ok {
					return
				}
				if err := session.Send(ctx, frame); err != nil {
					return
				}
			}
		}
	}()
	return stop
}

// forwardRealtimeEvents relays provider events as custom_event envelopes
// until the session closes its event channel or the runtime is cancelled.
func (d *Dispatcher) forwardRealtimeEvents(session provider.RealtimeSession) {
	for {
		select {
		case <-d.rt.Done():
			d.bus.Send(event.New(event.TypeCancelled, nil), bus.ModeAll)
			return
		case evt, ok := <-session.Events():
			if !ok {
				return
			}
			d.bus.Send(event.Custom(evt.Type, evt.Data), bus.ModeAll)
		}
	}
}
