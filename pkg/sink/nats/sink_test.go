package nats

import (
	"context"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	e := broker.Event{Type: ingest.OpUpdate, Table: "Sensors", ID: "101"}
	assert.Equal(t, "sensorhub.Sensors.update", Subject("sensorhub", e))
}

func TestStreamConfigEqual(t *testing.T) {
	base := nats.StreamConfig{Name: "s", Subjects: []string{"a.>"}, Storage: nats.FileStorage, Replicas: 1}

	testCases := []struct {
		name   string
		modify func(*nats.StreamConfig)
		want   bool
	}{
		{name: "same", modify: func(*nats.StreamConfig) {}, want: true},
		{name: "name", modify: func(c *nats.StreamConfig) { c.Name = "t" }},
		{name: "storage", modify: func(c *nats.StreamConfig) { c.Storage = nats.MemoryStorage }},
		{name: "subjects", modify: func(c *nats.StreamConfig) { c.Subjects = []string{"b.>"} }},
		{name: "extra subject", modify: func(c *nats.StreamConfig) { c.Subjects = append(c.Subjects, "b.>") }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			other := base
			other.Subjects = append([]string(nil), base.Subjects...)
			tc.modify(&other)
			assert.Equal(t, tc.want, streamConfigEqual(base, other))
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	plain := defaultOptions(Config{})
	var c Config
	c.Username, c.Password = "u", "p"
	c.TLS.Enabled = true
	c.TLS.CAFile = "ca.pem"
	c.TLS.CertFile, c.TLS.KeyFile = "cert.pem", "key.pem"
	assert.Len(t, defaultOptions(c), len(plain)+3)
}

func TestPubNotConnected(t *testing.T) {
	err := (&SinkNATS{}).Pub(context.Background(), broker.Event{})
	assert.ErrorIs(t, err, sink.ErrNotConnected)
}
