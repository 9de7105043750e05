package realtime

// Named events carried over the realtime channel.
const (
	EventChatJoin    = "chat:join"
	EventChatLeave   = "chat:leave"
	EventChatSend    = "chat:send"
	EventChatMessage = "chat:message"
	EventChatTyping  = "chat:typing"

	EventNotificationNew = "notification:new"

	EventPostNew    = "post:new"
	EventPostUpdate = "post:update"
	EventPostDelete = "post:delete"

	EventEmergencyAlert = "emergency:alert"
	EventBookingUpdate  = "booking:update"

	// Connection lifecycle events, dispatched locally by the manager.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// RoomPayload addresses a chat room in join/leave messages.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendPayload is the body of a chat:send message.
type SendPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// TypingPayload is the body of a chat:typing message.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
