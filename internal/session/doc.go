// Package session runs long-lived MQTT subscriber sessions.
//
// A Session binds one client identity to one topic filter. Starting it
// connects to the broker, subscribes, and then hands every lifecycle event to
// a Handler through a Dispatcher: a bounded queue drained by one goroutine,
// so a session's events are delivered serially and in order.
//
// # Lifecycle
//
//	INIT → CONNECTING → CONNECTED → SUBSCRIBED → LOST | CLOSED
//
// LOST and CLOSED are terminal. A session never reconnects; a setup failure
// at any step ends in CLOSED. Done is closed when a terminal state is reached.
//
// # Delivery
//
// Sessions default to at-least-once delivery. Handlers must expect
// duplicates: a broker redelivery arrives as a separate OnMessageArrived
// call with Message.Duplicate set.
//
// # Usage
//
//	builder := &session.Builder{Addr: addr, Credentials: creds, Transport: transport}
//	builder.SetLogger(logger)
//	s, err := builder.Build(session.Config{
//	    Name:     "sediment",
//	    ClientID: "sandfang_client",
//	    Topic:    "tk/sensor/logger1/sandfang",
//	    QoS:      mqtt.AtLeastOnce,
//	}, handler)
//	if err != nil {
//	    return err
//	}
//	group := session.NewGroup(logger, s)
//	group.Start(ctx)
//	<-group.Done()
package session
