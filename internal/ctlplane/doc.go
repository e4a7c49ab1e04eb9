// Package ctlplane implements the control channel between npf clients and
// the filtering engine.
//
// # Overview
//
// Every exchange carries a command and a configuration document encoded
// with the dict transport form. An exchange either only reports success
// (send) or also returns a response document (send/receive).
//
//	Client (envelope) → Channel → net/rpc → Server → Backend (engine)
//
// # Key Types
//
//   - [Channel]: transport abstraction; [RPCChannel] speaks net/rpc over a
//     unix or vsock socket
//   - [Client]: the protocol envelope used by tools
//   - [Server]: exposes a [Backend] over net/rpc
//   - [ControlPlaneClient]: interface for mocking in tests
//
// # Errors
//
// Transport failures are [*TransportError] and match npf.ErrProtocol.
// Failures reported by the engine are [*npf.PeerError] and match
// npf.ErrPeer; they are returned as received.
//
// # Example
//
//	ch, err := ctlplane.Dial(ctlplane.GetSocketPath())
//	if err != nil { ... }
//	c := ctlplane.NewClient(ch)
//	defer c.Close()
//	if err := c.Submit(ctx, cfg); err != nil { ... }
package ctlplane
