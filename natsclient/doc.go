// Package natsclient wraps the NATS Go client with a circuit breaker,
// connection lifecycle tracking and the JetStream operations batchsync needs
// to republish batch events.
//
// # Circuit Breaker
//
// Connect and JetStream failures are counted. After a threshold (default 5)
// the circuit opens and further attempts fail fast with ErrCircuitOpen until
// the backoff elapses. Backoff doubles each round up to WithMaxBackoff.
// ErrCircuitOpen and ErrNotConnected both classify as transient, so callers
// retrying through pkg/retry with errors.IsTransient will wait them out.
//
// # Lifecycle
//
// Status moves Disconnected -> Connecting -> Connected, then Reconnecting
// and back on network trouble. WithHealthChangeCallback and the other callback
// options are invoked on each transition.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Core NATS with a dedup header
//	msg := nats.NewMsg("ad_bot.batch_synced")
//	msg.Data = payload
//	msg.Header.Set(nats.MsgIdHdr, id)
//	err = client.PublishMsg(ctx, msg)
//
//	// JetStream, acknowledged and deduplicated by the stream
//	ack, err := client.PublishToStream(ctx, "ad_bot.batch_synced", payload,
//	    jetstream.WithMsgID(id))
//
// # Testing
//
// NewTestClient starts a NATS server in a container via testcontainers and
// returns a connected client. Integration tests skip under -short.
//
//	tc := natsclient.NewTestClient(t, natsclient.WithStreams(jetstream.StreamConfig{
//	    Name:     "BATCHES",
//	    Subjects: []string{"ad_bot.>"},
//	}))
//	tc.Client.PublishToStream(ctx, "ad_bot.batch_synced", data)
package natsclient
