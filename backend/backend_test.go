package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestNewPicksBackendFromCredentials(t *testing.T) {
	b, err := New("dg-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Kind() != Streaming {
		t.Errorf("streaming credential should win, got %v", b.Kind())
	}

	b, err = New("", "groq-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Kind() != Buffered {
		t.Errorf("expected buffered backend, got %v", b.Kind())
	}

	if _, err := New("", ""); err == nil {
		t.Error("expected error with no credentials")
	}
}

var errStreamClosed = errors.New("stream closed")

type fakeRawStream struct {
	mu          sync.Mutex
	sent        [][]byte
	sendErr     error
	updates     chan streamUpdate
	closed      chan struct{}
	closeOnce   sync.Once
	onCloseSend func(*fakeRawStream)
}

func newFakeRawStream() *fakeRawStream {
	return &fakeRawStream{
		updates: make(chan streamUpdate, 32),
		closed:  make(chan struct{}),
	}
}

func (f *fakeRawStream) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeRawStream) CloseSend() error {
	if f.onCloseSend != nil {
		f.onCloseSend(f)
	}
	return nil
}

func (f *fakeRawStream) Recv() (streamUpdate, error) {
	select {
	case u := <-f.updates:
		return u, nil
	case <-f.closed:
		return streamUpdate{}, errStreamClosed
	}
}

func (f *fakeRawStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeRawStream) sentChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func startFakeStreaming(t *testing.T, raw *fakeRawStream) *StreamingBackend {
	t.Helper()
	s := newStreamingBackend()
	s.dial = func(context.Context, string) (rawStream, error) { return raw, nil }
	if err := s.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestStreamingFoldsPartialsOntoCommitted(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)
	defer s.Stop(context.Background())

	raw.updates <- streamUpdate{Transcript: "hello"}
	ev := nextEvent(t, s.Events())
	if ev.Kind != EventPartial || ev.Text != "hello" {
		t.Fatalf("got %+v, want partial %q", ev, "hello")
	}

	raw.updates <- streamUpdate{Transcript: "hello world", IsFinal: true}
	ev = nextEvent(t, s.Events())
	if ev.Kind != EventFinal || ev.Text != "hello world" {
		t.Fatalf("got %+v, want final %q", ev, "hello world")
	}

	// Interim text after a commit rides on top of the committed prefix.
	raw.updates <- streamUpdate{Transcript: "again"}
	ev = nextEvent(t, s.Events())
	if ev.Kind != EventPartial || ev.Text != "hello world again" {
		t.Fatalf("got %+v, want partial %q", ev, "hello world again")
	}

	raw.updates <- streamUpdate{Transcript: "again", SpeechFinal: true}
	ev = nextEvent(t, s.Events())
	if ev.Kind != EventFinal || ev.Text != "hello world again" {
		t.Fatalf("got %+v, want final %q", ev, "hello world again")
	}
}

func TestStreamingCommittedNeverShrinks(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)
	defer s.Stop(context.Background())

	raw.updates <- streamUpdate{Transcript: "one", IsFinal: true}
	nextEvent(t, s.Events())

	// An empty interim must not disturb committed text.
	raw.updates <- streamUpdate{Transcript: ""}
	raw.updates <- streamUpdate{Transcript: "two", IsFinal: true}
	ev := nextEvent(t, s.Events())
	if ev.Text != "one two" {
		t.Errorf("committed text = %q, want %q", ev.Text, "one two")
	}
}

func TestStreamingStopReturnsFlushedTranscript(t *testing.T) {
	raw := newFakeRawStream()
	// The finalize request settles the trailing partial.
	raw.onCloseSend = func(f *fakeRawStream) {
		f.updates <- streamUpdate{Transcript: "tail", FromFinalize: true}
	}
	s := startFakeStreaming(t, raw)

	raw.updates <- streamUpdate{Transcript: "head", IsFinal: true}
	nextEvent(t, s.Events())
	raw.updates <- streamUpdate{Transcript: "tail"}
	nextEvent(t, s.Events())

	text, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if text != "head tail" {
		t.Errorf("canonical transcript = %q, want %q", text, "head tail")
	}
}

func TestStreamingStopIdempotent(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)

	raw.updates <- streamUpdate{Transcript: "done", IsFinal: true}
	nextEvent(t, s.Events())

	first, _ := s.Stop(context.Background())
	second, _ := s.Stop(context.Background())
	if first != second {
		t.Errorf("repeated Stop diverged: %q then %q", first, second)
	}
}

func TestStreamingFeedChunksAtFixedSize(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)
	defer s.Stop(context.Background())

	s.Feed(make([]byte, streamChunkBytes/2))
	time.Sleep(20 * time.Millisecond)
	if n := raw.sentChunks(); n != 0 {
		t.Fatalf("sub-chunk feed should not send, sent %d", n)
	}

	s.Feed(make([]byte, streamChunkBytes))
	deadline := time.Now().Add(time.Second)
	for raw.sentChunks() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	raw.mu.Lock()
	defer raw.mu.Unlock()
	if len(raw.sent) == 0 {
		t.Fatal("expected a chunk on the wire")
	}
	if len(raw.sent[0]) != streamChunkBytes {
		t.Errorf("chunk size = %d, want %d", len(raw.sent[0]), streamChunkBytes)
	}
}

func TestStreamingStartFailure(t *testing.T) {
	s := newStreamingBackend()
	dialErr := errors.New("no route")
	s.dial = func(context.Context, string) (rawStream, error) { return nil, dialErr }

	if err := s.Start(context.Background(), "en"); !errors.Is(err, dialErr) {
		t.Fatalf("Start err = %v, want %v", err, dialErr)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events should be closed after failed start")
	}
}

func TestStreamingEndedEvent(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)

	raw.updates <- streamUpdate{Transcript: "bye", IsFinal: true}
	nextEvent(t, s.Events())
	raw.updates <- streamUpdate{Ended: true}
	ev := nextEvent(t, s.Events())
	if ev.Kind != EventEnded || ev.Text != "bye" {
		t.Errorf("got %+v, want ended with %q", ev, "bye")
	}
	s.Stop(context.Background())
}

func TestStreamingFeedDuringStopIsSafe(t *testing.T) {
	raw := newFakeRawStream()
	s := startFakeStreaming(t, raw)

	var wg sync.WaitGroup
	feeding := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(feeding)
		for i := 0; i < 200; i++ {
			s.Feed(make([]byte, streamChunkBytes))
		}
	}()

	// Stop races the feeder; sends must never hit a closed channel.
	<-feeding
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()

	// Late callbacks after teardown are discarded.
	s.Feed(make([]byte, streamChunkBytes))
}

func TestStreamingStopBoundedAfterSendFailure(t *testing.T) {
	raw := newFakeRawStream()
	raw.sendErr = errors.New("connection reset")
	s := startFakeStreaming(t, raw)

	// One full chunk kills the sender; the remainder stays buffered so
	// Stop has a tail to flush with nobody left to drain it.
	s.Feed(make([]byte, streamChunkBytes+100))
	select {
	case <-s.sendDone:
	case <-time.After(time.Second):
		t.Fatal("sender did not exit on send failure")
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, raw.sendErr) {
			t.Errorf("Stop err = %v, want %v", err, raw.sendErr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on the tail flush after the sender died")
	}
}

func feedPCM(b *BufferedBackend, n int) {
	b.Feed(make([]byte, n))
}

func TestBufferedPollReplacesTranscript(t *testing.T) {
	var calls atomic.Int32
	results := []string{"one", "one two"}
	fn := func(_ context.Context, flacData []byte, _ string) (string, error) {
		if len(flacData) == 0 {
			return "", errors.New("empty submission")
		}
		n := calls.Add(1)
		if int(n) > len(results) {
			return results[len(results)-1], nil
		}
		return results[n-1], nil
	}

	b := newBufferedBackend(fn, 30*time.Millisecond)
	if err := b.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feedPCM(b, 3200)

	ev := nextEvent(t, b.Events())
	if ev.Kind != EventPartial || ev.Text != "one" {
		t.Fatalf("got %+v, want partial %q", ev, "one")
	}
	feedPCM(b, 3200)
	ev = nextEvent(t, b.Events())
	if ev.Text != "one two" {
		t.Fatalf("replacement transcript = %q, want %q", ev.Text, "one two")
	}

	text, err := b.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if text != "one two" {
		t.Errorf("canonical transcript = %q, want %q", text, "one two")
	}
}

func TestBufferedSingleCallInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context, []byte, string) (string, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return "text", nil
	}

	b := newBufferedBackend(fn, 10*time.Millisecond)
	if err := b.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feedPCM(b, 3200)

	// Several ticks elapse while the first call blocks.
	time.Sleep(80 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent calls = %d, want 1", maxInFlight.Load())
	}
}

func TestBufferedEmptyBufferSkipsPolls(t *testing.T) {
	var calls atomic.Int32
	fn := func(context.Context, []byte, string) (string, error) {
		calls.Add(1)
		return "", nil
	}

	b := newBufferedBackend(fn, 10*time.Millisecond)
	if err := b.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("no audio was fed, yet %d calls went out", calls.Load())
	}
}

func TestBufferedStaleResultDiscardedOnFinalize(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(context.Context, []byte, string) (string, error) {
		if calls.Add(1) == 1 {
			<-release
			return "stale", nil
		}
		return "final", nil
	}

	b := newBufferedBackend(fn, 10*time.Millisecond)
	if err := b.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feedPCM(b, 3200)

	// Let the first poll get stuck in flight.
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := b.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if text != "final" {
		t.Errorf("canonical transcript = %q, the in-flight result must lose to the final flush", text)
	}
	for ev := range b.Events() {
		if ev.Text == "stale" {
			t.Error("stale in-flight result leaked as an event after finalize")
		}
	}
}

func TestBufferedFatalAuthError(t *testing.T) {
	fn := func(context.Context, []byte, string) (string, error) {
		return "", errAuthf("key revoked")
	}

	b := newBufferedBackend(fn, 10*time.Millisecond)
	if err := b.Start(context.Background(), "en"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feedPCM(b, 3200)

	ev := nextEvent(t, b.Events())
	if ev.Kind != EventError || !IsFatal(ev.Err) {
		t.Fatalf("got %+v, want fatal auth error event", ev)
	}

	// No further submissions after a fatal error.
	_, err := b.Stop(context.Background())
	if !IsFatal(err) {
		t.Errorf("Stop err = %v, want fatal auth error", err)
	}
}

func errAuthf(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrAuth)
}

func TestGroqClientAuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := newGroqClient("bad-key")
	g.apiURL = srv.URL
	_, err := g.transcribe(context.Background(), []byte("flac"), "en")
	if !IsFatal(err) {
		t.Errorf("401 should map to a fatal auth error, got %v", err)
	}
}

func TestGroqClientParsesTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3-turbo" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		w.Write([]byte(`{"text":" hello from whisper "}`))
	}))
	defer srv.Close()

	g := newGroqClient("test-key")
	g.apiURL = srv.URL
	text, err := g.transcribe(context.Background(), []byte("flac-bytes"), "en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != " hello from whisper " {
		t.Errorf("text = %q", text)
	}
}
