// Package influxdb records deskpilot execution metrics in InfluxDB v2.
//
// Every executed action becomes one "action_metrics" point and every run
// one "run_metrics" point, tagged with the agent ID so several desktops
// can share a bucket. Client satisfies automation.MetricsSink.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Agent.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	exec := automation.NewExecutor(input, vision, history,
//	    automation.WithMetrics(client))
//
// Writes are non-blocking and batched per the batch_size and
// flush_interval settings. Asynchronous write failures are delivered to the
// callback set with SetOnError; they never affect a run.
package influxdb
