package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

const deepgramStreamURL = "wss://api.deepgram.com/v1/listen"

type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func dialDeepgram(ctx context.Context, apiKey, language string) (rawStream, error) {
	endpoint, err := url.Parse(deepgramStreamURL)
	if err != nil {
		return nil, err
	}

	q := endpoint.Query()
	q.Set("model", "nova-3")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", 16000))
	q.Set("channels", "1")
	if language != "" {
		q.Set("language", language)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+apiKey)

	streamCtx, cancel := context.WithCancel(context.Background())
	conn, resp, err := websocket.Dial(ctx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram rejected credentials (HTTP %d): %w", resp.StatusCode, ErrAuth)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	return &deepgramStream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (d *deepgramStream) Send(pcm []byte) error {
	return d.conn.Write(d.ctx, websocket.MessageBinary, pcm)
}

func (d *deepgramStream) CloseSend() error {
	return d.conn.Write(d.ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`))
}

func (d *deepgramStream) Recv() (streamUpdate, error) {
	_, data, err := d.conn.Read(d.ctx)
	if err != nil {
		// A clean server-side close means the recognizer ended the
		// stream itself rather than failing.
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return streamUpdate{Ended: true}, nil
		}
		return streamUpdate{}, err
	}

	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return streamUpdate{}, err
	}

	transcript := ""
	if len(resp.Channel.Alternatives) > 0 {
		transcript = resp.Channel.Alternatives[0].Transcript
	}

	return streamUpdate{
		Transcript:   strings.TrimSpace(transcript),
		IsFinal:      resp.IsFinal,
		SpeechFinal:  resp.SpeechFinal,
		FromFinalize: resp.FromFinalize,
	}, nil
}

func (d *deepgramStream) Close() error {
	d.cancel()
	return d.conn.Close(websocket.StatusNormalClosure, "")
}
