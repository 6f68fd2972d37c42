// Package pipeline joins a source and a sink endpoint and relays frames
// between them.
//
// A Pipeline moves through
//
//	Init -> ResolvingEndpoints -> BuildingTransports -> Forwarding -> Terminated
//
// and never goes back. New performs the resolving stage, so a malformed URL
// is reported before any socket exists. Run builds both handles
// concurrently and only starts forwarding once both are ready. Forwarding
// is strictly one frame at a time with no queue between source and sink.
//
// Example usage:
//
//	p, err := pipeline.New(&pipeline.Options{
//		From:    "udp://:9000",
//		To:      "quic://10.0.0.2:9443",
//		Builder: transport.NewFactory(&transport.FactoryOptions{Engine: eng}),
//	})
//	if err != nil {
//		return err // *endpoint.ConfigError
//	}
//	res, err := p.Run(ctx)
package pipeline
