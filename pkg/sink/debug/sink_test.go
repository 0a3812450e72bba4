package debug

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPubLogsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	c, err := sink.NewConnector(sink.ConnectorDebug)
	require.NoError(t, err)
	require.NoError(t, c.Connect(nil, zap.New(core)))

	require.NoError(t, c.Pub(context.Background(), broker.Event{
		Type:  ingest.OpPut,
		Table: "Sensors",
		ID:    "101",
		Value: json.RawMessage(`{"temp":72.5}`),
	}))
	require.NoError(t, c.Disconnect())

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "put", fields["type"])
	assert.Equal(t, "Sensors", fields["table"])
	assert.Equal(t, "101", fields["id"])
	assert.Equal(t, `{"temp":72.5}`, fields["value"])
}
