package main

import "log/slog"

// Channel keys scope best-effort broadcast to interested connections. They
// are derived from the chat/group id plus a message/update discriminator and
// become the event suffix of each connection's delivery subject.
func chatChannel(chatId string) string {
	return "chat." + chatId + ".message"
}

func groupChannel(groupId string) string {
	return "group." + groupId + ".message"
}

func chatUpdateChannel(chatId string) string {
	return "chat." + chatId + ".message.update"
}

// deliverSubject builds the per-connection delivery subject for one event.
// The auth callout scopes each user's subscribe permission to its own
// deliver.{userId}.> prefix.
func deliverSubject(userId, connId, event string) string {
	return "deliver." + userId + "." + connId + "." + event
}

// pusher fans a payload out to every live connection. Delivery is fire and
// forget: no acknowledgment, no buffering for offline recipients. A
// disconnected recipient re-fetches from the durable store.
type pusher struct {
	reg     *registry
	publish func(subject string, data []byte) error
}

func newPusher(reg *registry, publish func(subject string, data []byte) error) *pusher {
	return &pusher{reg: reg, publish: publish}
}

// broadcast pushes data to all connections under the given channel key.
func (p *pusher) broadcast(channelKey string, data []byte) int {
	sent := 0
	for userId, connId := range p.reg.connections() {
		if err := p.publish(deliverSubject(userId, connId, channelKey), data); err != nil {
			slog.Warn("Failed to push to connection", "user", userId, "connId", connId, "channel", channelKey, "error", err)
			continue
		}
		sent++
	}
	return sent
}
