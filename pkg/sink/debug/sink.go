package debug

import (
	"context"
	"encoding/json"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"go.uber.org/zap"
)

// SinkDebug logs every event it receives.
type SinkDebug struct {
	logger *zap.Logger
}

func (s *SinkDebug) Connect(_ json.RawMessage, logger *zap.Logger) error {
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return nil
}

func (s *SinkDebug) Pub(_ context.Context, event broker.Event) error {
	s.logger.Info(sink.ConnectorDebug,
		zap.String("type", string(event.Type)),
		zap.String("table", event.Table),
		zap.String("id", event.ID),
		zap.ByteString("value", event.Value),
		zap.Any("annotations", event.Annotations))
	return nil
}

func (s *SinkDebug) Disconnect() error {
	return nil
}

func init() {
	sink.RegisterConnector(sink.ConnectorDebug, func() sink.Connector { return &SinkDebug{} })
}
