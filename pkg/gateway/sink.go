package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

const (
	sinkBufferSize = 64
	writeTimeout   = 5 * time.Second
)

// channelSink is the outbound half of one channel: a bounded queue drained
// by a single writer goroutine, satisfying orchestrator.Sink's cancellable
// task + bounded-channel design note directly instead of via a promise
// chain. Send drops the frame (with a log line) when the queue is full
// rather than blocking the Orchestrator goroutine that called it.
type channelSink struct {
	conn         *websocket.Conn
	log          logging.Logger
	connectionID string

	queue    chan wire.Frame
	closeOne sync.Once
	done     chan struct{}
}

func newChannelSink(conn *websocket.Conn, logger logging.Logger, connectionID string) *channelSink {
	return &channelSink{
		conn:         conn,
		log:          logger,
		connectionID: connectionID,
		queue:        make(chan wire.Frame, sinkBufferSize),
		done:         make(chan struct{}),
	}
}

// Send implements orchestrator.Sink.
func (s *channelSink) Send(f wire.Frame) {
	select {
	case s.queue <- f:
	default:
		s.log.Warn("gateway: outbound queue full, dropping frame",
			"connectionId", s.connectionID, "eventType", f.EventType, "eventId", f.EventID)
	}
}

// run drains the queue until stop is called or a write fails. It is meant
// to be launched in its own goroutine by the channel handler.
func (s *channelSink) run() {
	for {
		select {
		case f := <-s.queue:
			b, err := wire.Encode(f)
			if err != nil {
				s.log.Error("gateway: failed to encode outbound frame",
					"connectionId", s.connectionID, "eventType", f.EventType, "err", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = s.conn.Write(ctx, websocket.MessageBinary, b)
			cancel()
			if err != nil {
				s.log.Debug("gateway: outbound write failed", "connectionId", s.connectionID, "err", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *channelSink) stop() {
	s.closeOne.Do(func() { close(s.done) })
}
