// Package message defines the envelope that flows through rule chains.
//
// A Msg carries an originator entity, a payload with its data type, string
// metadata, the current rule chain and rule node, and a ProcessingCtx. The
// context holds the rule node execution counter, which bounds rule loops, and
// the call/return stack that lets a nested chain hand its result back to the
// chain that called it.
//
// Messages are immutable from the outside. Two builders derive new ones:
//
//	// Fan-out copy: new id, same processing context
//	fork, err := msg.Copy().Data(payload).Build()
//
//	// Crossing a chain boundary: metadata and context are deep-copied and
//	// the rule node id is cleared when the chain changes
//	next := msg.TransformToChain(targetChainID)
//
// The call/return protocol pushes a frame before entering a nested chain and
// pops it when the nested chain produces output:
//
//	msg.PushToStack(callerChainID, callerNodeID)
//	...
//	if frame, ok := msg.PopFromStack(); ok {
//	    // deliver to frame.ChainID, continuing after frame.NodeID
//	}
//
// Processing stops once Msg.IsValid reports false. Callbacks created by a Pack
// turn invalid together when the pack is cancelled or its deadline passes.
//
// ToWire and FromWire map a Msg to its protobuf encoding. Optional references
// are MSB/LSB pairs and an all-zero pair decodes to uuid.Nil.
package message
