package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type execCall struct {
	query string
	args  []any
}

type fakeConn struct {
	calls  []execCall
	err    error
	closed bool
}

func (f *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	f.calls = append(f.calls, execCall{query, args})
	return f.err
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestInitCreatesTable(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.setDefaults())

	conn := &fakeConn{}
	s := &SinkClickHouse{logger: zap.NewNop()}
	require.NoError(t, s.init(context.Background(), conn, cfg))

	require.Len(t, conn.calls, 1)
	assert.Contains(t, conn.calls[0].query, "CREATE TABLE IF NOT EXISTS default.sensor_readings")

	require.NoError(t, s.Disconnect())
	assert.True(t, conn.closed)
}

func TestInitSkipsCreate(t *testing.T) {
	create := false
	cfg := Config{CreateTable: &create}
	require.NoError(t, cfg.setDefaults())

	conn := &fakeConn{}
	s := &SinkClickHouse{logger: zap.NewNop()}
	require.NoError(t, s.init(context.Background(), conn, cfg))
	assert.Empty(t, conn.calls)
}

func TestPub(t *testing.T) {
	create := false
	cfg := Config{CreateTable: &create, Database: "iot", Table: "history"}
	require.NoError(t, cfg.setDefaults())

	conn := &fakeConn{}
	s := &SinkClickHouse{logger: zap.NewNop()}
	require.NoError(t, s.init(context.Background(), conn, cfg))

	err := s.Pub(context.Background(), broker.Event{
		Type:        ingest.OpPut,
		Table:       "Sensors",
		ID:          "101",
		Value:       json.RawMessage(`{"id":"101","temp":101,"alert":true}`),
		Annotations: map[string]any{"alert": true},
	})
	require.NoError(t, err)

	require.Len(t, conn.calls, 1)
	call := conn.calls[0]
	assert.Contains(t, call.query, "INSERT INTO iot.history")
	require.Len(t, call.args, 6)
	assert.Equal(t, "Sensors", call.args[0])
	assert.Equal(t, "101", call.args[1])
	assert.Equal(t, "put", call.args[2])
	assert.JSONEq(t, `{"id":"101","temp":101,"alert":true}`, call.args[3].(string))
	assert.JSONEq(t, `{"alert":true}`, call.args[4].(string))
}

func TestPubErrors(t *testing.T) {
	assert.ErrorIs(t, (&SinkClickHouse{}).Pub(context.Background(), broker.Event{}), sink.ErrNotConnected)

	create := false
	cfg := Config{CreateTable: &create}
	require.NoError(t, cfg.setDefaults())
	s := &SinkClickHouse{logger: zap.NewNop()}
	require.NoError(t, s.init(context.Background(), &fakeConn{err: errors.New("boom")}, cfg))
	assert.ErrorContains(t, s.Pub(context.Background(), broker.Event{Table: "Sensors", ID: "1"}), "boom")
}

func TestConfigIdentifiers(t *testing.T) {
	cfg := Config{Table: "readings; DROP TABLE x"}
	assert.Error(t, cfg.setDefaults())

	cfg = Config{DialTimeout: "fast"}
	require.NoError(t, cfg.setDefaults())
	_, err := cfg.options()
	assert.Error(t, err)
}
