package bus

// Event kinds published by the sync core. Kinds share a dotted namespace
// prefix per component so a subscriber can watch a whole area at once
// (e.g. "message." or "channel."). The bus is the boundary between the
// core and any presentation layer: rendering, sounds and desktop
// notifications live entirely on the subscriber side.
const (
	KindChannelConnected    = "channel.connected"
	KindChannelDisconnected = "channel.disconnected"
	KindChannelStateChanged = "channel.state_changed"

	KindMessagePending  = "message.pending"
	KindMessageUpdated  = "message.updated"
	KindMessageFailed   = "message.failed"
	KindMessageReceived = "message.received"

	KindConversationOpened     = "conversation.opened"
	KindConversationLoaded     = "conversation.loaded"
	KindConversationLoadFailed = "conversation.load_failed"
	KindUnreadChanged          = "conversation.unread_changed"

	KindPresenceUpdated = "presence.updated"
	KindTypingChanged   = "typing.changed"
	KindRosterUpdated   = "roster.updated"
)
