package sensorhub

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/sensorhub/pkg/client"
	"github.com/spf13/cobra"
)

type subscribeFlags struct {
	transport string
	url       string
	brokers   []string
	target    string
	qos       byte
}

var subFlags subscribeFlags

var subscribeCmd = &cobra.Command{
	Use:     "subscribe",
	Aliases: []string{"sub"},
	Short:   "Print live updates of a record or table",
	Long: `Subscribe over MQTT, WebSocket or server-sent events and print the
temperature and location of every update until interrupted. The current
record is printed first when the gateway has one.`,
	Args: cobra.NoArgs,
	RunE: runSubscribe,
}

func init() {
	f := subscribeCmd.Flags()
	f.StringVarP(&subFlags.transport, "transport", "t", "ws", "transport (mqtt, ws, sse)")
	f.StringVarP(&subFlags.url, "url", "u", "", "gateway base URL (default http://localhost:9926 or ws://localhost:9926)")
	f.StringSliceVarP(&subFlags.brokers, "broker", "b", nil, "MQTT broker URL")
	f.StringVar(&subFlags.target, "target", "Sensors/101", "table/id, table/ for the whole table, or the MQTT topic")
	f.Uint8Var(&subFlags.qos, "qos", 1, "MQTT QoS")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	show := func(source string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, client.FormatUpdate(source, data, time.Now()))
	}

	fmt.Fprintf(out, "Subscribed to %s over %s\nListening for messages...\n\n", subFlags.target, subFlags.transport)

	switch subFlags.transport {
	case "mqtt":
		err = client.SubscribeMQTT(ctx, mqttOptions(subFlags.brokers), subFlags.target, subFlags.qos, logger, show)
	case "ws":
		err = client.SubscribeWS(ctx, baseURL(subFlags.url, "ws"), subFlags.target, logger, show)
	case "sse":
		err = client.SubscribeSSE(ctx, baseURL(subFlags.url, "http"), subFlags.target, nil, show)
	default:
		err = fmt.Errorf("%w %q", client.ErrUnknownTransport, subFlags.transport)
	}
	if err == nil {
		fmt.Fprintln(out, "Stopping subscriber...")
	}
	return err
}
