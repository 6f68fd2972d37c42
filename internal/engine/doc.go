// Package engine is the reliable transport engine behind quic:// endpoints.
//
// BuildEndpoint binds a UDP socket and brings up exactly one QUIC
// connection, either by waiting for a peer (listen) or by dialing one
// (connect). The returned Connection is split once into a Receiver and a
// Sender. Each direction uses a single unidirectional stream opened by the
// sending side, carrying frames as a QUIC varint length followed by the
// payload, so frame boundaries survive the byte stream.
//
// # Shutdown
//
// The sending side finishes its stream and lingers until the receiving
// side closes the connection, which guarantees the tail of the stream is
// read before the connection goes away. If the linger runs out first the
// sender closes with a non-zero code. A receiver reports end of stream only
// once it read the stream's FIN, or when its peer closed in an orderly way
// without ever opening a stream; losing the connection mid-stream is an
// error.
//
// # Usage Example
//
//	eng, err := engine.New(engine.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := eng.BuildEndpoint(ctx, spec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	recv, _, err := conn.Split()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer recv.Close()
//
//	frame, err := recv.Recv(ctx)
package engine
