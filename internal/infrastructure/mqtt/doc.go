// Package mqtt connects a deskpilot agent to an MQTT broker.
//
// The agent announces itself with a retained status message and an
// offline Last Will, publishes run lifecycle events for the executor, and
// listens for remote control messages.
//
// # Topics
//
//	deskpilot/{agent}/status                   retained {"status":"online"|"offline"}
//	deskpilot/{agent}/runs/{run_id}/started    run accepted
//	deskpilot/{agent}/runs/{run_id}/result     one ActionResult
//	deskpilot/{agent}/runs/{run_id}/finished   run summary
//	deskpilot/{agent}/control/execute          sequence requests
//	deskpilot/{agent}/control/cancel           {"run_id": "..."}
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Agent.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	exec := automation.NewExecutor(input, vision, history,
//	    automation.WithMQTT(client, cfg.Agent.ID))
//
// Client satisfies automation.MQTTClient. Publishing failures never fail a
// run; the executor logs them and carries on.
package mqtt
