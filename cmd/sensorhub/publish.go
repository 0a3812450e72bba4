package sensorhub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgeflare/sensorhub/pkg/client"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type publishFlags struct {
	transport string
	url       string
	brokers   []string
	target    string
	interval  time.Duration
	qos       byte
	retain    bool
	method    string
}

var pubFlags publishFlags

var publishCmd = &cobra.Command{
	Use:     "publish [payload]",
	Aliases: []string{"pub"},
	Short:   "Publish sensor readings to a gateway",
	Long: `Publish a payload once, or publish a random warehouse reading now and then
on every interval until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVarP(&pubFlags.transport, "transport", "t", "http", "transport (http, mqtt, ws)")
	f.StringVarP(&pubFlags.url, "url", "u", "", "gateway base URL (default http://localhost:9926 or ws://localhost:9926)")
	f.StringSliceVarP(&pubFlags.brokers, "broker", "b", nil, "MQTT broker URL (default from config or "+mqtt.DefaultServer+")")
	f.StringVar(&pubFlags.target, "target", "Sensors/101", "table/id, or the MQTT topic")
	f.DurationVarP(&pubFlags.interval, "interval", "i", 5*time.Second, "publish interval for random readings")
	f.Uint8Var(&pubFlags.qos, "qos", 1, "MQTT QoS")
	f.BoolVar(&pubFlags.retain, "retain", os.Getenv("MQTT_RETAIN") != "false", "MQTT retain flag; retained messages are stored")
	f.StringVarP(&pubFlags.method, "method", "X", "PUT", "HTTP method")
}

func newPublisher(logger *zap.Logger) (client.Publisher, error) {
	switch pubFlags.transport {
	case "http":
		return client.NewHTTPPublisher(baseURL(pubFlags.url, "http"), strings.ToUpper(pubFlags.method), logger), nil
	case "ws":
		return client.NewWSPublisher(baseURL(pubFlags.url, "ws"), logger), nil
	case "mqtt":
		return client.NewMQTTPublisher(mqttOptions(pubFlags.brokers), pubFlags.qos, pubFlags.retain, logger)
	default:
		return nil, fmt.Errorf("%w %q", client.ErrUnknownTransport, pubFlags.transport)
	}
}

// baseURL returns url or the local gateway address for scheme.
func baseURL(url, scheme string) string {
	if url != "" {
		return url
	}
	host := "localhost" + cfg.Server.ListenAddr
	if !strings.HasPrefix(cfg.Server.ListenAddr, ":") {
		host = cfg.Server.ListenAddr
	}
	return scheme + "://" + host
}

// mqttOptions is the configured broker connection with servers overridden.
func mqttOptions(servers []string) mqtt.Options {
	opts := cfg.MQTT.Options
	if len(servers) > 0 {
		opts.Servers = servers
	}
	opts.ClientID = ""
	return opts
}

func runPublish(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPublisher(logger)
	if err != nil {
		return err
	}
	defer p.Close()

	out := cmd.OutOrStdout()
	send := func(payload []byte) error {
		resp, err := p.Publish(ctx, pubFlags.target, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Published to %s: %s\n", pubFlags.target, payload)
		if len(resp) > 0 {
			fmt.Fprintf(out, "Response: %s\n", strings.TrimSpace(string(resp)))
		}
		return nil
	}

	if len(args) == 1 {
		return send([]byte(args[0]))
	}

	random := func() error {
		payload, err := json.Marshal(client.RandomReading(nil))
		if err != nil {
			return err
		}
		return send(payload)
	}

	if err := random(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Publishing every %s... (Ctrl+C to stop)\n", pubFlags.interval)

	ticker := time.NewTicker(pubFlags.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopping publisher...")
			return nil
		case <-ticker.C:
			if err := random(); err != nil {
				logger.Warn("publish failed", zap.Error(err))
			}
		}
	}
}
