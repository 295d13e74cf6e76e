// Package botlink is a client runtime for chat-bot automation gateways.
//
// A Bot maintains two persistent WebSocket channels to the gateway:
//   - The command channel (/api) carries request/response calls,
//     correlated by an echoed id
//   - The event channel (/event) delivers inbound notifications
//
// Inbound notifications are classified onto dot-paths such as
// message.group.@me or notice.group_ban.ban and dispatched to
// hierarchical listeners. Message listeners share a cancellable context
// per inbound message and can contribute an automatic reply that is sent
// back to the source conversation.
//
// Both channels reconnect on abnormal closure according to the
// configured policy, surfacing progress as socket.* events.
package botlink
