package main

// Wire payloads carried over the connection subjects. Server→client pushes go
// to deliver.{userId}.{connId}.{event}; client→server events and the
// chat-service handshake API use the flat subjects in main.go.

// ConnectRequest is the payload clients send to conn.connect.
type ConnectRequest struct {
	UserId string `json:"userId"`
	Token  string `json:"token"`
}

// ConnectReply carries the server-assigned connection id and the current
// presence snapshot back to a freshly connected client.
type ConnectReply struct {
	ConnId string   `json:"connId"`
	Users  []string `json:"users"`
}

// DisconnectRequest is the payload clients send to conn.disconnect.
type DisconnectRequest struct {
	ConnId string `json:"connId"`
}

// HeartbeatPayload refreshes the TTL'd liveness entry for one connection.
type HeartbeatPayload struct {
	UserId string `json:"userId"`
	ConnId string `json:"connId"`
}

// PresenceSnapshot is pushed to every live connection on connect/disconnect.
type PresenceSnapshot struct {
	Users []string `json:"users"`
}

// ChatInviteEvent is pushed to the target of a chat invitation.
type ChatInviteEvent struct {
	FromUserId   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName"`
}

// ChatInviteReply is the target's answer to a chat invitation. The replying
// user's identity is resolved from ConnId, never taken from the payload.
type ChatInviteReply struct {
	ConnId     string `json:"connId"`
	FromUserId string `json:"fromUserId"`
	Accepted   bool   `json:"accepted"`
}

// GroupInviteEvent is pushed to the target of a group invitation.
type GroupInviteEvent struct {
	CreatorId string `json:"creatorId"`
	GroupName string `json:"groupName"`
}

// GroupInviteReply is the target's answer to a group invitation.
type GroupInviteReply struct {
	ConnId    string `json:"connId"`
	CreatorId string `json:"creatorId"`
	Accepted  bool   `json:"accepted"`
}

// ChatSolicitRequest is the chat-service request on invite.chat.
type ChatSolicitRequest struct {
	TargetUserId    string `json:"targetUserId"`
	RequesterUserId string `json:"requesterUserId"`
	RequesterName   string `json:"requesterName"`
}

// GroupSolicitRequest is the chat-service request on invite.group.
type GroupSolicitRequest struct {
	TargetUserId string `json:"targetUserId"`
	CreatorId    string `json:"creatorId"`
	GroupName    string `json:"groupName"`
}
