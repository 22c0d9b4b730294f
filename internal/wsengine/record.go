package wsengine

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/store"
)

// recordWindow is the hard deadline on a recording session (spec.md §4.7:
// "A bounded recording window of 10 seconds"), counted from the start of
// the session; the first cooperating task to finish ends the session
// earlier. A var, not a const, so tests can shrink it instead of waiting
// out the real window.
var recordWindow = 10 * time.Second

// chanCapacity is the fixed backpressure bound on the inter-task channels
// (spec.md §5 "Backpressure").
const chanCapacity = 32

type wireMessage struct {
	frameType int
	payload   []byte
}

// Record tunnels client <-> upstream while capturing every message the
// upstream sends, for a miss on a WS route under build_mode == Write
// (spec.md §4.7 "Record"). It returns the recorded messages, offset from
// session start, ready for Store.SaveWsMessages.
//
// Four cooperating tasks (client_in, client_out, server_out, server_in)
// plus a recorder race; the session ends when the first of the four
// finishes or when the 10-second window since session start elapses,
// whichever comes first (spec.md §4.7 step 4).
func (e *Engine) Record(ctx context.Context, client, upstream Conn) []store.RecordedMessage {
	start := time.Now()

	clientTx := make(chan wireMessage, chanCapacity)
	serverBroadcast := make(chan wireMessage, chanCapacity)
	recorderIn := make(chan wireMessage, chanCapacity)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var recorded []store.RecordedMessage
	recordDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)

	// Cancellation must unblock any task parked in a blocking Read: closing
	// both sockets is what actually wakes them, the same way a real upgraded
	// HTTP connection closing does (spec.md §1 "clean cancellation").
	go func() {
		<-gctx.Done()
		_ = client.Close()
		_ = upstream.Close()
	}()

	// client_in: read client -> push into client_tx. Its own completion (the
	// client hung up, or any read error) is itself one of the "earliest
	// completing" events spec.md §4.7 step 4 bounds the session by, so it
	// cancels gctx on the way out rather than waiting for the 10s timer.
	g.Go(func() error {
		defer cancel()
		for {
			mt, p, err := client.ReadMessage()
			if err != nil {
				return nil
			}
			select {
			case clientTx <- wireMessage{frameType: mt, payload: p}:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// server_out: read from client_tx -> write to upstream.
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case m := <-clientTx:
				if err := upstream.WriteMessage(m.frameType, m.payload); err != nil {
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	// server_in: read upstream -> publish on server_broadcast (and recorder).
	g.Go(func() error {
		defer cancel()
		for {
			mt, p, err := upstream.ReadMessage()
			if err != nil {
				return nil
			}
			m := wireMessage{frameType: mt, payload: p}
			select {
			case serverBroadcast <- m:
			case <-gctx.Done():
				return nil
			}
			select {
			case recorderIn <- m:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// client_out: read from server_broadcast -> write to client.
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case m := <-serverBroadcast:
				if err := client.WriteMessage(m.frameType, m.payload); err != nil {
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	// recorder: subscribes to recorderIn, records (elapsed, payload, type).
	g.Go(func() error {
		defer close(recordDone)
		for {
			select {
			case m := <-recorderIn:
				recorded = append(recorded, store.RecordedMessage{
					Offset:      time.Since(start),
					Payload:     m.payload,
					MessageType: toFrameKind(m.frameType),
				})
			case <-gctx.Done():
				return nil
			}
		}
	})

	// The 10-second window races the first task's own completion: whichever
	// happens first cancels gctx and winds the rest down (spec.md §4.7 step 4).
	timer := time.AfterFunc(recordWindow, cancel)
	defer timer.Stop()

	_ = g.Wait()
	cancel()
	<-recordDone

	return recorded
}

func toFrameKind(wireType int) catalogpkg.WsFrameType {
	switch wireType {
	case websocket.TextMessage:
		return catalogpkg.Text
	case websocket.BinaryMessage:
		return catalogpkg.Binary
	case websocket.PingMessage:
		return catalogpkg.Ping
	case websocket.PongMessage:
		return catalogpkg.Pong
	case websocket.CloseMessage:
		return catalogpkg.Close
	default:
		return catalogpkg.Frame
	}
}
