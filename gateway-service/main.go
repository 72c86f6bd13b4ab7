package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/PedroJacobCard/my-chat-api/pkg/identity"
	"github.com/PedroJacobCard/my-chat-api/pkg/otelhelper"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Invalid duration value, using default", "key", key, "value", v, "default_seconds", def)
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

// natsDispatcher pushes events to per-connection delivery subjects with trace
// context propagated.
type natsDispatcher struct {
	nc *nats.Conn
}

func (d *natsDispatcher) Dispatch(ctx context.Context, userId, connId, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return otelhelper.TracedPublish(ctx, d.nc, deliverSubject(userId, connId, event), data)
}

// startConnWatcher watches the CONNS bucket for expired entries. A connection
// whose heartbeat stops refreshing its TTL'd key is treated as dead, the same
// way a graceful conn.disconnect is.
func startConnWatcher(ctx context.Context, kv nats.KeyValue, reg *registry, onGone func(userId, connId string)) {
	watcher, err := kv.WatchAll()
	if err != nil {
		slog.Error("Failed to start CONNS KV watcher", "error", err)
		return
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue // end of initial values
			}
			if entry.Operation() != nats.KeyValueDelete && entry.Operation() != nats.KeyValuePurge {
				continue
			}
			parts := strings.SplitN(entry.Key(), ".", 2)
			if len(parts) != 2 {
				continue
			}
			userId, connId := parts[0], parts[1]
			if current, ok := reg.lookup(userId); !ok || current != connId {
				continue // already disconnected or overwritten by a newer connect
			}
			slog.Info("Connection expired (KV TTL)", "user", userId, "connId", connId)
			onGone(userId, connId)
		}
	}
}

func main() {
	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otelhelper.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	meter := otel.Meter("gateway-service")
	connectCounter, _ := meter.Int64Counter("gateway_connects_total",
		metric.WithDescription("Total successful connection handshakes"))
	disconnectCounter, _ := meter.Int64Counter("gateway_disconnects_total",
		metric.WithDescription("Total disconnects (graceful and expired)"))
	inviteCounter, _ := meter.Int64Counter("gateway_invites_total",
		metric.WithDescription("Total invitations by kind and result"))
	inviteDuration, _ := otelhelper.NewDurationHistogram(meter, "gateway_invite_duration_seconds", "Time from solicitation to resolution")
	pushCounter, _ := meter.Int64Counter("gateway_pushes_total",
		metric.WithDescription("Total per-connection push deliveries"))

	natsURL := envOrDefault("NATS_URL", "nats://localhost:4222")
	natsUser := envOrDefault("NATS_USER", "gateway-service")
	natsPass := envOrDefault("NATS_PASS", "gateway-service-secret")
	keycloakURL := envOrDefault("KEYCLOAK_URL", "http://localhost:8080")
	keycloakRealm := envOrDefault("KEYCLOAK_REALM", "my-chat")
	keycloakIssuer := envOrDefault("KEYCLOAK_ISSUER_URL", "")
	inviteTimeout := envSeconds("INVITE_TIMEOUT_SECONDS", 20)
	connTTL := envSeconds("CONN_TTL_SECONDS", 45)

	slog.Info("Starting Gateway Service", "nats_url", natsURL, "invite_timeout", inviteTimeout)

	validator, err := identity.NewValidator(keycloakURL, keycloakRealm, keycloakIssuer)
	if err != nil {
		slog.Error("Failed to initialize token validator", "error", err)
		os.Exit(1)
	}
	defer validator.Close()

	// Connect to NATS with retry
	var nc *nats.Conn
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(natsURL,
			nats.UserInfo(natsUser, natsPass),
			nats.Name("gateway-service"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				slog.Info("NATS reconnected")
			}),
		)
		if err == nil {
			break
		}
		slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	js, err := nc.JetStream()
	if err != nil {
		slog.Error("Failed to create JetStream context", "error", err)
		os.Exit(1)
	}

	connKV, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  "CONNS",
		History: 1,
		TTL:     connTTL,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		slog.Error("Failed to create CONNS KV bucket", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS KV bucket ready", "bucket", "CONNS", "ttl", connTTL)

	reg := newRegistry()
	push := newPusher(reg, nc.Publish)
	disp := &natsDispatcher{nc: nc}
	chatInvites := newCoordinator(reg, disp, "chat.invite", inviteTimeout)
	groupInvites := newCoordinator(reg, disp, "group.invite", inviteTimeout)

	onlineGauge, _ := meter.Int64ObservableGauge("gateway_online_users",
		metric.WithDescription("Currently connected users"))
	pendingGauge, _ := meter.Int64ObservableGauge("gateway_pending_invites",
		metric.WithDescription("Outstanding invitations awaiting reply or timeout"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(onlineGauge, int64(reg.count()))
		o.ObserveInt64(pendingGauge, int64(chatInvites.pendingCount()+groupInvites.pendingCount()))
		return nil
	}, onlineGauge, pendingGauge)

	// broadcastPresence pushes the full snapshot to every live connection.
	// Full-snapshot over incremental diffs: presence is low-cardinality and
	// a missed add/remove matters more than the bandwidth.
	broadcastPresence := func() {
		snap := PresenceSnapshot{Users: reg.snapshot()}
		data, err := json.Marshal(snap)
		if err != nil {
			slog.Warn("Failed to marshal presence snapshot", "error", err)
			return
		}
		sent := push.broadcast("presence.snapshot", data)
		pushCounter.Add(context.Background(), int64(sent), metric.WithAttributes(
			attribute.String("channel", "presence.snapshot")))
	}

	handleGone := func(userId, connId string) {
		if _, ok := reg.disconnect(connId); !ok {
			return
		}
		connKV.Delete(userId + "." + connId)
		disconnectCounter.Add(context.Background(), 1)
		broadcastPresence()
	}

	// conn.connect: verify the token, bind identity to a fresh connection id,
	// register presence, answer with the snapshot.
	_, err = nc.Subscribe("conn.connect", func(msg *nats.Msg) {
		ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "conn.connect")
		defer span.End()

		var req ConnectRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.UserId == "" || req.Token == "" {
			msg.Respond([]byte(`{"error":"userId and token are required"}`))
			return
		}
		if strings.Contains(req.UserId, ".") {
			slog.WarnContext(ctx, "Rejected connect: userId contains dot", "user", req.UserId)
			msg.Respond([]byte(`{"error":"invalid userId"}`))
			return
		}

		claims, err := validator.ValidateToken(req.Token)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "Rejected connect: invalid token", "user", req.UserId, "error", err)
			msg.Respond([]byte(`{"error":"invalid or expired token"}`))
			return
		}
		if claims.Subject != req.UserId {
			slog.WarnContext(ctx, "Rejected connect: token subject mismatch", "user", req.UserId, "subject", claims.Subject)
			msg.Respond([]byte(`{"error":"token does not match user"}`))
			return
		}

		connId := uuid.New().String()[:8]
		if old, replaced := reg.connect(req.UserId, connId); replaced {
			connKV.Delete(req.UserId + "." + old)
			slog.InfoContext(ctx, "Connection overwritten by newer connect", "user", req.UserId, "old", old, "new", connId)
		}
		connKV.Put(req.UserId+"."+connId, []byte(`{}`))

		reply := ConnectReply{ConnId: connId, Users: reg.snapshot()}
		data, _ := json.Marshal(reply)
		msg.Respond(data)

		connectCounter.Add(ctx, 1)
		slog.InfoContext(ctx, "User connected", "user", req.UserId, "connId", connId)
		broadcastPresence()
	})
	if err != nil {
		slog.Error("Failed to subscribe to conn.connect", "error", err)
		os.Exit(1)
	}

	// conn.heartbeat: refresh the TTL'd liveness entry. A heartbeat for an
	// overwritten or removed connection is ignored.
	_, err = nc.Subscribe("conn.heartbeat", func(msg *nats.Msg) {
		var hb HeartbeatPayload
		if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.UserId == "" || hb.ConnId == "" {
			return
		}
		if current, ok := reg.lookup(hb.UserId); !ok || current != hb.ConnId {
			return
		}
		connKV.Put(hb.UserId+"."+hb.ConnId, []byte(`{}`))
	})
	if err != nil {
		slog.Error("Failed to subscribe to conn.heartbeat", "error", err)
		os.Exit(1)
	}

	// conn.disconnect: graceful close; unknown connection ids are a no-op.
	_, err = nc.Subscribe("conn.disconnect", func(msg *nats.Msg) {
		ctx, span := otelhelper.StartConsumerSpan(context.Background(), msg, "conn.disconnect")
		defer span.End()

		var req DisconnectRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConnId == "" {
			return
		}
		userId, ok := reg.disconnect(req.ConnId)
		if !ok {
			return
		}
		connKV.Delete(userId + "." + req.ConnId)
		disconnectCounter.Add(ctx, 1)
		slog.InfoContext(ctx, "User disconnected", "user", userId, "connId", req.ConnId)
		broadcastPresence()
	})
	if err != nil {
		slog.Error("Failed to subscribe to conn.disconnect", "error", err)
		os.Exit(1)
	}

	// chat.invite.reply: the replying user's identity comes from the
	// connection, not the payload; replies for unknown connections or without
	// a matching pending invitation are dropped.
	_, err = nc.Subscribe("chat.invite.reply", func(msg *nats.Msg) {
		ctx, span := otelhelper.StartConsumerSpan(context.Background(), msg, "chat.invite.reply")
		defer span.End()

		var reply ChatInviteReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.ConnId == "" {
			return
		}
		targetUserId, ok := reg.lookupConn(reply.ConnId)
		if !ok {
			slog.DebugContext(ctx, "Dropped invite reply from unknown connection", "connId", reply.ConnId)
			return
		}
		if !chatInvites.HandleReply(targetUserId, reply.FromUserId, reply.Accepted) {
			slog.DebugContext(ctx, "Dropped stale or mismatched chat invite reply", "target", targetUserId, "requester", reply.FromUserId)
		}
	})
	if err != nil {
		slog.Error("Failed to subscribe to chat.invite.reply", "error", err)
		os.Exit(1)
	}

	_, err = nc.Subscribe("group.invite.reply", func(msg *nats.Msg) {
		ctx, span := otelhelper.StartConsumerSpan(context.Background(), msg, "group.invite.reply")
		defer span.End()

		var reply GroupInviteReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.ConnId == "" {
			return
		}
		targetUserId, ok := reg.lookupConn(reply.ConnId)
		if !ok {
			return
		}
		if !groupInvites.HandleReply(targetUserId, reply.CreatorId, reply.Accepted) {
			slog.DebugContext(ctx, "Dropped stale or mismatched group invite reply", "target", targetUserId, "creator", reply.CreatorId)
		}
	})
	if err != nil {
		slog.Error("Failed to subscribe to group.invite.reply", "error", err)
		os.Exit(1)
	}

	// invite.chat: handshake API for chat-service. The responder blocks on
	// the solicitation, so each request runs in its own goroutine and the
	// subscription keeps draining.
	_, err = nc.Subscribe("invite.chat", func(msg *nats.Msg) {
		go func() {
			start := time.Now()
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "invite.chat")
			defer span.End()

			var req ChatSolicitRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || req.TargetUserId == "" || req.RequesterUserId == "" {
				msg.Respond([]byte(`{"accepted":false,"message":"invalid request"}`))
				return
			}
			span.SetAttributes(
				attribute.String("invite.target", req.TargetUserId),
				attribute.String("invite.requester", req.RequesterUserId),
			)

			out := chatInvites.Solicit(ctx, req.TargetUserId, req.RequesterUserId, ChatInviteEvent{
				FromUserId:   req.RequesterUserId,
				FromUserName: req.RequesterName,
			})
			data, _ := json.Marshal(out)
			msg.Respond(data)

			attrs := metric.WithAttributes(
				attribute.String("kind", "chat"),
				attribute.Bool("accepted", out.Accepted),
			)
			inviteCounter.Add(ctx, 1, attrs)
			inviteDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			slog.InfoContext(ctx, "Chat invitation resolved", "target", req.TargetUserId, "requester", req.RequesterUserId, "accepted", out.Accepted, "message", out.Message)
		}()
	})
	if err != nil {
		slog.Error("Failed to subscribe to invite.chat", "error", err)
		os.Exit(1)
	}

	_, err = nc.Subscribe("invite.group", func(msg *nats.Msg) {
		go func() {
			start := time.Now()
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "invite.group")
			defer span.End()

			var req GroupSolicitRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || req.TargetUserId == "" || req.CreatorId == "" {
				msg.Respond([]byte(`{"accepted":false,"message":"invalid request"}`))
				return
			}
			span.SetAttributes(
				attribute.String("invite.target", req.TargetUserId),
				attribute.String("invite.requester", req.CreatorId),
			)

			out := groupInvites.Solicit(ctx, req.TargetUserId, req.CreatorId, GroupInviteEvent{
				CreatorId: req.CreatorId,
				GroupName: req.GroupName,
			})
			data, _ := json.Marshal(out)
			msg.Respond(data)

			attrs := metric.WithAttributes(
				attribute.String("kind", "group"),
				attribute.Bool("accepted", out.Accepted),
			)
			inviteCounter.Add(ctx, 1, attrs)
			inviteDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			slog.InfoContext(ctx, "Group invitation resolved", "target", req.TargetUserId, "creator", req.CreatorId, "accepted", out.Accepted, "message", out.Message)
		}()
	})
	if err != nil {
		slog.Error("Failed to subscribe to invite.group", "error", err)
		os.Exit(1)
	}

	// push.chat.* / push.group.* / push.update.chat.*: best-effort fan-out
	// of messages and message updates published by chat-service.
	fanout := func(channel string) func(msg *nats.Msg) {
		return func(msg *nats.Msg) {
			ctx, span := otelhelper.StartConsumerSpan(context.Background(), msg, "push fanout")
			defer span.End()

			parts := strings.Split(msg.Subject, ".")
			id := parts[len(parts)-1]
			var key string
			switch channel {
			case "chat":
				key = chatChannel(id)
			case "group":
				key = groupChannel(id)
			case "update":
				key = chatUpdateChannel(id)
			}
			sent := push.broadcast(key, msg.Data)
			pushCounter.Add(ctx, int64(sent), metric.WithAttributes(attribute.String("channel", channel)))
			span.SetAttributes(attribute.Int("push.recipients", sent))
		}
	}
	if _, err = nc.Subscribe("push.chat.*", fanout("chat")); err != nil {
		slog.Error("Failed to subscribe to push.chat.*", "error", err)
		os.Exit(1)
	}
	if _, err = nc.Subscribe("push.group.*", fanout("group")); err != nil {
		slog.Error("Failed to subscribe to push.group.*", "error", err)
		os.Exit(1)
	}
	if _, err = nc.Subscribe("push.update.chat.*", fanout("update")); err != nil {
		slog.Error("Failed to subscribe to push.update.chat.*", "error", err)
		os.Exit(1)
	}

	watcherCtx, watcherCancel := context.WithCancel(ctx)
	go startConnWatcher(watcherCtx, connKV, reg, handleGone)

	slog.Info("Gateway service ready", "subjects", "conn.*, invite.*, *.invite.reply, push.*")

	// Wait for shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down gateway service")
	watcherCancel()
	chatInvites.Close()
	groupInvites.Close()
	nc.Drain()
	slog.Info("Gateway service shutdown complete")
}
