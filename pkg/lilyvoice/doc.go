// Package lilyvoice is the client core of a real-time voice conversation
// app: it keeps a persistent websocket session to the conversation backend
// and streams microphone audio over it.
//
// # Overview
//
// The package provides:
//   - A connection Session with automatic reconnection, a 30 s heartbeat
//     and an application-level registration handshake
//   - Microphone capture with fixed-interval chunking, gated on the
//     session being connected and registered
//   - Energy-based voice activity detection for UI feedback
//   - Strictly sequential playback of backend-pushed audio clips
//   - JSON file persistence for settings, chat history and logs
//
// # Quick start
//
//	client, err := lilyvoice.NewClient(nil, nil, "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	client.OnMessage(lilyvoice.NewLoggingMessageHandler(nil))
//	client.Connect()
//
//	if client.WaitRegistered(10 * time.Second) {
//		if err := client.StartCapture(); err != nil {
//			log.Fatal(err)
//		}
//	}
//	defer client.Disconnect()
//
// # Protocol
//
// The session speaks a small text protocol next to the audio frames:
// "ping"/"pong" for liveness, "register:<client-id>"/"registered" for the
// handshake. Those four frames are consumed internally; every other text
// frame is forwarded verbatim to message subscribers, and every binary
// frame is queued for playback.
//
// # Failure model
//
// Transport faults self-heal: any socket loss schedules a reconnect after
// a fixed delay, forever, until Disconnect is called. Send failures,
// dropped chunks and per-clip playback faults degrade gracefully and are
// observable through the status stream and logs. Only capture-start
// errors (device access) are returned to the caller.
package lilyvoice
