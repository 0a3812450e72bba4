/*
Package sink fans committed events out to external systems.

Connectors register a factory in init(); importing a driver package makes its
connector available by name:

	import (
		_ "github.com/edgeflare/sensorhub/pkg/sink/kafka"
		_ "github.com/edgeflare/sensorhub/pkg/sink/nats"
	)

A sink is configured as

	sinks:
	  - name: history
	    connector: clickhouse
	    tables: ["Sensors"]
	    config:
	      addr: ["localhost:9000"]
	      table: readings

The Manager connects every sink with exponential backoff, then runs one
worker per sink reading from a buffered channel. Dispatch never blocks: a
full channel drops the event for that sink and counts it in
sensorhub_fanout_dropped_total{stage="sink"}.
*/
package sink
