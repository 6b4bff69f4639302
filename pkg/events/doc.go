/*
Package events is an in-memory broker for daemon events.

The daemon publishes an event when an endpoint's published state flips,
when an admin override is set or cleared, when zones are loaded and when
the server starts or stops. The HTTP API streams them to clients on
GET /events, one JSON object per line:

	{"id":"…","type":"endpoint.down","timestamp":"…","metadata":{"endpoint":"web/192.0.2.10","state":"DOWN/10"}}

Publish never blocks. Events that do not fit the broker queue, or a slow
subscriber's buffer, are dropped and counted by Dropped.

	b := events.NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["endpoint"])
	}
*/
package events
