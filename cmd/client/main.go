// Command client is the demo CLI voice agent: it dials the gateway's
// channel endpoint over a websocket, captures the microphone and plays
// back synthesized responses via malgo, and speaks the framed wire
// protocol directly instead of calling an in-process Orchestrator. Local
// voice-activity detection and echo suppression are adapted from a
// continuous mic/speaker duplex loop, translated into explicit
// audio.start/chunk/end frames.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

const (
	sampleRate = 16000
	channels   = 1

	// vadThreshold is the RMS level above which a frame is considered
	// speech under quiet conditions.
	vadThreshold = 0.02
	// echoThreshold replaces vadThreshold while local playback is active,
	// so the bot's own voice coming back through the mic doesn't
	// re-trigger audio.start.
	echoThreshold = 0.15
	// echoWindow is how long after the last playback write we still treat
	// the speaker as "active" for echo-suppression purposes, accounting
	// for room reverb and device buffering.
	echoWindow = 200 * time.Millisecond
	// silenceHold is how long RMS must stay below threshold before an
	// in-progress utterance is closed with audio.end.
	silenceHold = 600 * time.Millisecond
)

func main() {
	url := os.Getenv("GATEWAY_URL")
	if url == "" {
		url = "ws://localhost:8080/ws"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		log.Fatalf("client: dial %s: %v", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := newClient(conn)
	if err := c.awaitAck(ctx); err != nil {
		log.Fatalf("client: handshake: %v", err)
	}
	fmt.Printf("Connected. sessionId=%s\n", c.sessionID)

	go c.writeLoop(ctx)
	go c.readLoop(ctx)

	if err := c.runAudio(ctx); err != nil {
		log.Fatalf("client: audio device: %v", err)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

// client owns one channel's outbound queue, inbound dispatch, and local
// playback buffer.
type client struct {
	conn *websocket.Conn

	sessionID string
	outbound  chan wire.Frame

	speakingMu  sync.Mutex
	speaking    bool
	lastVoiceAt time.Time

	playbackMu    sync.Mutex
	playbackBytes []byte
	lastPlayedAt  time.Time
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, outbound: make(chan wire.Frame, 64)}
}

// awaitAck blocks for the server's connection.ack, the first frame every
// channel receives.
func (c *client) awaitAck(ctx context.Context) error {
	_, payload, err := c.conn.Read(ctx)
	if err != nil {
		return err
	}
	f, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	if f.EventType != wire.EventConnectionAck {
		return fmt.Errorf("expected connection.ack, got %q", f.EventType)
	}
	sessionID, _ := wire.PayloadString(f.Payload, "sessionId")
	c.sessionID = sessionID
	return nil
}

func (c *client) send(f wire.Frame) {
	select {
	case c.outbound <- f:
	default:
		log.Printf("client: outbound queue full, dropping %s", f.EventType)
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case f := <-c.outbound:
			b, err := wire.Encode(f)
			if err != nil {
				log.Printf("client: encode %s: %v", f.EventType, err)
				continue
			}
			if err := c.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, payload, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		f, err := wire.Decode(payload)
		if err != nil {
			log.Printf("client: malformed frame: %v", err)
			continue
		}
		c.handleInbound(f)
	}
}

func (c *client) handleInbound(f wire.Frame) {
	switch f.EventType {
	case wire.EventResponseStart:
		fmt.Printf("\r\033[K[TTS] response starting...\n")
	case wire.EventResponseChunk:
		audio, _ := wire.PayloadBytes(f.Payload, "audio")
		c.playbackMu.Lock()
		c.playbackBytes = append(c.playbackBytes, audio...)
		c.playbackMu.Unlock()
	case wire.EventResponseComplete:
		fmt.Printf("\r\033[K[TTS] response complete.\n")
	case wire.EventResponseInterrupt:
		fmt.Printf("\r\033[K[INTERRUPTED] response cancelled.\n")
		c.playbackMu.Lock()
		c.playbackBytes = nil
		c.playbackMu.Unlock()
	default:
		if msg, ok := wire.PayloadString(f.Payload, "message"); ok {
			fmt.Printf("\r\033[K[%s] %s\n", f.EventType, msg)
		}
	}
}

// runAudio opens a duplex mic/speaker device and drives the VAD/echo
// suppression heuristics, translated from direct stream writes into
// audio.start/chunk/end frames.
func (c *client) runAudio(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return err
	}

	go func() {
		<-ctx.Done()
		device.Uninit()
		mctx.Uninit()
	}()
	return nil
}

func (c *client) onSamples(pOutput, pInput []byte, _ uint32) {
	if pInput != nil {
		c.handleCapture(pInput)
	}
	if pOutput != nil {
		c.handlePlayback(pOutput)
	}
}

func (c *client) handleCapture(pInput []byte) {
	rms := rmsOf(pInput)

	c.playbackMu.Lock()
	playingRecently := time.Since(c.lastPlayedAt) < echoWindow
	c.playbackMu.Unlock()

	threshold := vadThreshold
	if playingRecently {
		threshold = echoThreshold
	}

	c.speakingMu.Lock()
	defer c.speakingMu.Unlock()

	if rms > threshold {
		c.lastVoiceAt = time.Now()
		if !c.speaking {
			c.speaking = true
			c.send(wire.Frame{
				EventType: wire.EventAudioStart,
				EventID:   uuid.NewString(),
				SessionID: c.sessionID,
				Payload:   map[string]interface{}{"samplingRate": sampleRate},
			})
		}
	}

	if c.speaking {
		c.send(wire.Frame{
			EventType: wire.EventAudioChunk,
			EventID:   uuid.NewString(),
			SessionID: c.sessionID,
			Payload:   map[string]interface{}{"audio": append([]byte(nil), pInput...)},
		})

		if time.Since(c.lastVoiceAt) > silenceHold {
			c.speaking = false
			c.send(wire.Frame{
				EventType: wire.EventAudioEnd,
				EventID:   uuid.NewString(),
				SessionID: c.sessionID,
				Payload:   map[string]interface{}{},
			})
		}
	}
}

func (c *client) handlePlayback(pOutput []byte) {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()

	n := copy(pOutput, c.playbackBytes)
	c.playbackBytes = c.playbackBytes[n:]
	if n > 0 {
		c.lastPlayedAt = time.Now()
	}
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
}

func rmsOf(pcm []byte) float64 {
	var sum float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
