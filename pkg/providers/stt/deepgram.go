package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

const deepgramEndpoint = "wss://api.deepgram.com/v1/listen"

// DeepgramSTT implements Provider against Deepgram's genuinely streaming
// websocket transcription API: audio is forwarded as binary frames and
// interim/final JSON transcript events arrive as they are produced,
// unlike the batch vendors in this package.
type DeepgramSTT struct {
	apiKey string
	model  string
}

// NewDeepgramSTT constructs a Deepgram-backed Provider. model defaults to
// nova-2 when empty.
func NewDeepgramSTT(apiKey, model string) *DeepgramSTT {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramSTT{apiKey: apiKey, model: model}
}

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

func (s *DeepgramSTT) Open(ctx context.Context, cfg Config) (Stream, error) {
	u, err := s.buildURL(cfg)
	if err != nil {
		return nil, voiceerr.Classify(voiceerr.Fatal, "deepgram: build url", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.apiKey)

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		kind := voiceerr.Retryable
		if resp != nil {
			kind = voiceerr.ClassifyHTTPStatus(resp.StatusCode)
		}
		return nil, voiceerr.Classify(kind, "deepgram: dial", err)
	}

	sess := &deepgramStream{
		conn:    conn,
		results: make(chan Segment, 64),
		errs:    make(chan error, 4),
		audio:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

func (s *DeepgramSTT) buildURL(cfg Config) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 16000
	}
	q := u.Query()
	q.Set("model", s.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn *websocket.Conn

	results chan Segment
	errs    chan error
	audio   chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *deepgramStream) Send(_ context.Context, pcm []byte) error {
	select {
	case <-s.done:
		return voiceerr.Classify(voiceerr.Fatal, "deepgram: send", fmt.Errorf("stream closed"))
	default:
	}
	select {
	case s.audio <- pcm:
		return nil
	case <-s.done:
		return voiceerr.Classify(voiceerr.Fatal, "deepgram: send", fmt.Errorf("stream closed"))
	}
}

// Finalize sends Deepgram's documented finalize control message, which
// flushes any buffered audio into a final transcript without closing the
// connection; callers keep sending audio for subsequent utterances on the
// same stream.
func (s *deepgramStream) Finalize(ctx context.Context) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramStream) Results() <-chan Segment { return s.results }
func (s *deepgramStream) Errors() <-chan error    { return s.errs }

func (s *deepgramStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *deepgramStream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *deepgramStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case s.errs <- voiceerr.Classify(voiceerr.Network, "deepgram: read", err):
			case <-s.done:
			default:
			}
			return
		}
		seg, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.results <- seg:
		case <-s.done:
			return
		}
	}
}

func parseDeepgramResponse(data []byte) (Segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Segment{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return Segment{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return Segment{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		IsFinal:    resp.IsFinal,
		Timestamp:  time.Now(),
	}, true
}
