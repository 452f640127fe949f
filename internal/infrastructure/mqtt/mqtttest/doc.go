// Package mqtttest provides an in-process MQTT 3.1.1 broker for tests.
//
// The broker speaks the wire protocol through paho's packets codec and
// supports just enough of it to exercise subscriber sessions:
//
//   - CONNECT with optional username/password checking and client id takeover
//   - SUBSCRIBE/UNSUBSCRIBE with per-filter refusal (SUBACK 0x80)
//   - PUBLISH fan-out at QoS 0 and 1, with optional DUP redelivery
//   - PUBACK tracking, PINGREQ, DISCONNECT
//   - Sever, which drops a client's socket without a DISCONNECT
//   - Silent mode, which accepts TCP but never answers CONNECT
//
// Usage:
//
//	broker := mqtttest.Start(t, mqtttest.WithUser("svc", "secret"))
//	client, err := mqtt.Connect(ctx, broker.Addr(), creds, opts)
//	broker.Publish("tk/sensor/logger1/sandfang", []byte("12.5"), 1)
package mqtttest
