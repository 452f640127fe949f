// Package mqtt provides MQTT client connectivity for the telemetry edge.
//
// This package manages:
//   - The secure transport (TLS 1.2+, system trust store or a pinned CA)
//   - Connection to the broker with a bounded connect timeout
//   - Topic subscriptions with wildcard support and SUBACK checking
//   - Acknowledged publishing that reports a DeliveryRef
//   - Connection health monitoring
//
// # Architecture
//
// Each subscriber session owns one Client. Clients share a Transport, which is
// immutable once built. A Client never reconnects: connection loss is reported
// through Options.OnConnectionLost and the owner decides what to do.
//
//	Sensor loggers → MQTT Broker → Client → session dispatcher
//
// # Security Considerations
//
//   - TLS is required unless the configuration explicitly allows plaintext
//   - InsecureSkipVerify is never set
//   - Credentials redact their password in every formatted and logged form
//     and reach paho only through a CredentialsProvider
//
// # Delivery Guarantees
//
//   - AtMostOnce: messages may be lost
//   - AtLeastOnce: messages may arrive more than once; handlers must tolerate
//     duplicates (Message.Duplicate marks broker redeliveries)
//   - ExactlyOnce: four-packet handshake
//
// # Usage
//
//	transport, err := mqtt.NewTransport(mqtt.TransportConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr := mqtt.BrokerAddress{Scheme: "ssl", Host: "broker.example.com", Port: 8883}
//	client, err := mqtt.Connect(ctx, addr, creds, mqtt.Options{
//	    ClientID:       "sandfang_client",
//	    ConnectTimeout: 300 * time.Second,
//	    Transport:      transport,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	_, err = client.Subscribe(ctx, mqtt.Topics{}.Sensor("logger1", "sandfang"), mqtt.AtLeastOnce,
//	    func(msg mqtt.Message) error {
//	        log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	        return nil
//	    })
package mqtt
