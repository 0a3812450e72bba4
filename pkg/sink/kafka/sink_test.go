package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEvent = broker.Event{
	Type:  ingest.OpUpdate,
	Table: "Sensors",
	ID:    "101",
	Value: json.RawMessage(`{"id":"101","temp":75.5}`),
}

func TestMessage(t *testing.T) {
	msg, err := Message("sensorhub", testEvent)
	require.NoError(t, err)

	assert.Equal(t, "sensorhub.Sensors.update", msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "101", string(key))

	value, err := msg.Value.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"update","table":"Sensors","id":"101","value":{"id":"101","temp":75.5}}`, string(value))
}

func TestPub(t *testing.T) {
	conf := mocks.NewTestConfig()
	conf.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, conf)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e broker.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		assert.Equal(t, "101", e.ID)
		return nil
	})

	s := &SinkKafka{
		producer: producer,
		config:   &Config{TopicPrefix: "sensorhub"},
		logger:   zap.NewNop(),
	}
	require.NoError(t, s.Pub(context.Background(), testEvent))
	require.NoError(t, s.Disconnect())
}

func TestPubNotConnected(t *testing.T) {
	s := &SinkKafka{}
	assert.Error(t, s.Pub(context.Background(), testEvent))
}

func TestToSaramaConfig(t *testing.T) {
	testCases := []struct {
		name      string
		sasl      *SASL
		mechanism sarama.SASLMechanism
		wantErr   bool
	}{
		{name: "no sasl"},
		{name: "scram sha512", sasl: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}, mechanism: sarama.SASLTypeSCRAMSHA512},
		{name: "scram sha256", sasl: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha256"}, mechanism: sarama.SASLTypeSCRAMSHA256},
		{name: "plain", sasl: &SASL{Enable: true, Username: "u", Password: "p"}, mechanism: sarama.SASLTypePlaintext},
		{name: "unknown algorithm", sasl: &SASL{Enable: true, Algorithm: "md5"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{SASL: tc.sasl}
			cfg.setDefaults()

			conf, err := cfg.ToSaramaConfig()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sensorhub", conf.ClientID)
			assert.True(t, conf.Producer.Return.Successes)
			if tc.sasl != nil {
				assert.True(t, conf.Net.SASL.Enable)
				assert.Equal(t, tc.mechanism, conf.Net.SASL.Mechanism)
			}
			if tc.mechanism == sarama.SASLTypeSCRAMSHA512 || tc.mechanism == sarama.SASLTypeSCRAMSHA256 {
				require.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc)
				assert.IsType(t, &XDGSCRAMClient{}, conf.Net.SASL.SCRAMClientGeneratorFunc())
			}
		})
	}
}

func TestSCRAMClientBegin(t *testing.T) {
	c := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("user", "pencil", ""))

	first, err := c.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, c.Done())
}
