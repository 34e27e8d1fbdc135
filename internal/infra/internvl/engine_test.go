package internvl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer mimics the InternVL serving process.
type fakeServer struct {
	mu         sync.Mutex
	loads      []loadRequest
	chats      []chatRequest
	answer     string
	failLoad   bool
	chatStatus int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.loads = append(f.loads, req)
		f.mu.Unlock()
		if f.failLoad {
			http.Error(w, "CUDA device not available", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.chats = append(f.chats, req)
		f.mu.Unlock()
		if f.chatStatus != 0 {
			http.Error(w, "inference failed", f.chatStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Result: f.answer})
	})
	return mux
}

func newEngine(t *testing.T, srv *httptest.Server) *Engine {
	t.Helper()
	e, err := New(context.Background(), Config{
		Endpoint:    srv.URL,
		ModelPath:   "models/InternVL2_5-1B",
		DeviceCount: 2,
		MainDevice:  0,
		Timeout:     5 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	return e
}

func TestEngine_NewSendsLoadRequest(t *testing.T) {
	fake := &fakeServer{answer: "ok"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	newEngine(t, srv)

	require.Len(t, fake.loads, 1)
	assert.Equal(t, "models/InternVL2_5-1B", fake.loads[0].ModelPath)
	assert.Equal(t, 2, fake.loads[0].DeviceCount)
	assert.Equal(t, 0, fake.loads[0].MainDevice)
}

func TestEngine_NewFailsWhenLoadFails(t *testing.T) {
	fake := &fakeServer{failLoad: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	_, err := New(context.Background(), Config{Endpoint: srv.URL}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model")
	assert.Contains(t, err.Error(), "CUDA device not available")
}

func TestEngine_ChatWithImageRoundTrip(t *testing.T) {
	fake := &fakeServer{answer: "a cat"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	e := newEngine(t, srv)

	img := []byte{0x89, 'P', 'N', 'G'}
	answer, err := e.ChatWithImage(context.Background(), "What is this?", img)
	require.NoError(t, err)
	assert.Equal(t, "a cat", answer)

	require.Len(t, fake.chats, 1)
	assert.Equal(t, "What is this?", fake.chats[0].Text)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img), fake.chats[0].Image)
}

func TestEngine_ChatErrorCarriesStatusAndBody(t *testing.T) {
	fake := &fakeServer{chatStatus: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	e := newEngine(t, srv)

	_, err := e.ChatWithImage(context.Background(), "hi", []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "inference failed")
}

func TestEngine_ChatUnreachableEndpoint(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	e := newEngine(t, srv)
	srv.Close()

	_, err := e.ChatWithImage(context.Background(), "hi", []byte{1})
	require.Error(t, err)
}
