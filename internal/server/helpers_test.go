package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/lockstep/internal/config"
	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/playback"
	lsync "github.com/zsiec/lockstep/internal/sync"
)

type testEnv struct {
	server *Server
	engine *lsync.Engine
	stop   func()
}

func newTestEnv(t *testing.T, cfg *config.ServerConfig) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.ServerConfig{HTTPPort: 0, WriteTimeout: 2 * time.Second}
	}

	syncCfg := lsync.DefaultConfig()
	syncCfg.TickInterval = time.Hour
	factory := playback.SimFactory(playback.SimOptions{ReadyDelay: time.Millisecond}, nil)
	engine := lsync.NewEngine(syncCfg, factory, lsync.WithLogger(logger.NewNullLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = engine.Run(ctx)
		close(done)
	}()

	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop")
		}
	}

	env := &testEnv{
		server: New(cfg, logger.NewNullLogger(), engine, nil),
		engine: engine,
		stop:   stop,
	}
	t.Cleanup(func() {
		select {
		case <-done:
		default:
			stop()
		}
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, specs ...lsync.StreamSpec) lsync.SessionSnapshot {
	t.Helper()
	require.NoError(t, e.engine.Seed(context.Background(), specs))
	snap, err := e.engine.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) lsync.SessionSnapshot {
	t.Helper()
	var snap lsync.SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	TraceID string `json:"trace_id"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
