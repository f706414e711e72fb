package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "relay/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "relay.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsDefaultAuthTimeout  = 10 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// TokenVerifier is the auth collaborator. The token is verified exactly once
// at connect time; its result is trusted for the lifetime of the session.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// GatewayDeps bundles the collaborators a WSGateway routes between.
type GatewayDeps struct {
	Log        *slog.Logger
	Hub        *Hub
	Presence   *Presence
	Dispatcher *Dispatcher
	Store      MessageStore
	Members    MembershipStore
	Auth       TokenVerifier
	Metrics    *Metrics
}

// WSGateway is the WebSocket entrypoint for relay realtime.
//
// It enforces origin policy, subprotocol selection, connect-time auth, rate
// limits and heartbeats, translates legacy wire aliases to the canonical
// vocabulary, and routes validated envelopes to the store and dispatcher.
type WSGateway struct {
	log        *slog.Logger
	hub        *Hub
	presence   *Presence
	dispatcher *Dispatcher
	store      MessageStore
	members    MembershipStore
	auth       TokenVerifier
	metrics    *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	authTimeout     time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// Nil hub/presence/store/members fall back to in-memory implementations for dev.
func NewWSGateway(d GatewayDeps) *WSGateway {
	if d.Log == nil {
		d.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if d.Hub == nil {
		d.Hub = NewHub(d.Log)
	}
	if d.Presence == nil {
		d.Presence = NewPresence()
	}
	if d.Store == nil {
		d.Store = NewInMemoryStore()
	}
	if d.Members == nil {
		d.Members = NewInMemoryMembership()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = NewDispatcher(d.Log, d.Hub, d.Presence, NewReconCache(0), d.Metrics)
	}

	g := &WSGateway{
		log:        d.Log,
		hub:        d.Hub,
		presence:   d.Presence,
		dispatcher: d.Dispatcher,
		store:      d.Store,
		members:    d.Members,
		auth:       d.Auth,
		metrics:    d.Metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("RELAY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("RELAY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("RELAY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("RELAY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("RELAY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.authTimeout = envDurationWS("RELAY_WS_AUTH_TIMEOUT", wsDefaultAuthTimeout)

	g.sendQueueSize = envIntWS("RELAY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("RELAY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("RELAY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("RELAY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("RELAY_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Auth phase: either a token query parameter (legacy clients) or the
	// first envelope must be a hello carrying the token.
	userID, err := g.authenticate(ctx, conn, r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.writeDirectError(ctx, conn, "unauthorized", "authentication failed")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	client, err := g.startSession(ctx, userID)
	if err != nil {
		g.log.Error("ws.session.start.fail", "user_id", userID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.teardownSession(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// An evicted session (a newer login for the same user) is signaled via
	// client.Done; close the transport promptly instead of waiting for the
	// read idle timeout.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusPolicyViolation, "session replaced")
		}
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Confirm the session before processing any other traffic.
	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID, UserID: client.UserID})
	g.enqueue(ctx, client, g.newEnvelope(v1.TypeHelloAck, ackPayload))

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		// Legacy alias translation happens before validation, so alias
		// handling never reaches routing or dispatch. The raw type is kept
		// for the one alias pair whose payload meaning differs.
		rawType := env.Type
		env.Type = v1.CanonicalType(env.Type)

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			// Redundant hello after auth is absorbed as a re-ack.
			g.enqueue(ctx, client, g.newEnvelope(v1.TypeHelloAck, ackPayload))

		case v1.TypeRoomJoin:
			if err := g.onRoomJoin(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "join_failed", err)
			}

		case v1.TypeRoomLeave:
			g.onRoomLeave(client, env)

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env, now); err != nil {
				g.sendFailure(ctx, client, "send_failed", err)
			}

		case v1.TypeReactionSet:
			if err := g.onReactionSet(ctx, client, env, v1.IsRemoveReactionAlias(rawType)); err != nil {
				g.sendFailure(ctx, client, "reaction_failed", err)
			}

		case v1.TypeMessageUnsend:
			if err := g.onMessageUnsend(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "unsend_failed", err)
			}

		case v1.TypeMessageHide:
			if err := g.onMessageHide(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "hide_failed", err)
			}

		case v1.TypeMessageSeen:
			if err := g.onMessageSeen(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "seen_failed", err)
			}

		case v1.TypeTypingStart, v1.TypeTypingStop:
			if err := g.onTyping(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "typing_failed", err)
			}

		case v1.TypeBacklogFetch:
			if err := g.onBacklogFetch(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, "backlog_failed", err)
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- session lifecycle ----

// authenticate resolves the user id from the Authorization header, the token
// query parameter, or the initial hello envelope. The token is never
// re-verified per event.
func (g *WSGateway) authenticate(ctx context.Context, conn *websocket.Conn, r *http.Request) (string, error) {
	if g.auth == nil {
		return "", errors.New("no token verifier configured")
	}

	if tok := connectToken(r); tok != "" {
		userID, err := g.auth.VerifyToken(tok)
		if err != nil {
			return "", ErrUnauthorized
		}
		return userID, nil
	}

	authCtx, cancel := context.WithTimeout(ctx, g.authTimeout)
	defer cancel()

	env, err := readEnvelope(authCtx, conn)
	if err != nil {
		return "", fmt.Errorf("reading hello: %w", err)
	}
	env.Type = v1.CanonicalType(env.Type)
	if env.Type != v1.TypeHello {
		return "", fmt.Errorf("expected hello, got %q", env.Type)
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid hello payload: %w", err)
	}
	userID, err := g.auth.VerifyToken(strings.TrimSpace(p.Token))
	if err != nil {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// connectToken extracts the connect-time token from the Authorization header
// (Bearer scheme) or the token query parameter used by legacy clients.
func connectToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// startSession allocates the connection session: presence registration
// (evicting any prior session for the user), the private per-user room, and
// one group room per membership, queried once at connect time.
func (g *WSGateway) startSession(ctx context.Context, userID string) (*Client, error) {
	now := time.Now().UTC()
	sessionID, err := NewSessionID(now)
	if err != nil {
		return nil, err
	}

	client := NewClient(userID, sessionID, g.sendQueueSize)

	evicted := g.presence.Register(client)
	if evicted != nil {
		// Last-writer-wins: the older device observes an explicit close
		// instead of having its delivery silently stolen.
		g.hub.LeaveAll(evicted)
		evicted.Close()
		g.log.Info("session.evict", "user_id", userID, "old_session_id", evicted.SessionID, "new_session_id", sessionID)
	}

	g.hub.Join(UserRoomKey(userID), client)

	groups, err := g.members.ListGroupRooms(ctx, userID)
	if err != nil {
		// Group subscriptions are best-effort at connect; direct delivery
		// still works through the private room and clients re-join rooms
		// they care about.
		g.log.Error("session.groups.fail", "user_id", userID, "err", err)
	}
	for _, gid := range groups {
		key, err := GroupRoomKey(gid)
		if err != nil {
			g.log.Info("session.group.skip", "user_id", userID, "group_id", gid, "err", err)
			continue
		}
		g.hub.Join(key, client)
	}

	if g.metrics != nil {
		g.metrics.OpenSessions.Inc()
		g.metrics.OnlineUsers.Set(float64(g.presence.Len()))
	}

	if evicted == nil {
		g.dispatcher.BroadcastPresence(userID, true, sessionID)
	}

	g.log.Info("session.start", "user_id", userID, "session_id", sessionID, "group_rooms", len(groups))
	return client, nil
}

// teardownSession deregisters the session. Presence-offline is broadcast
// only when no replacement session exists for the user.
func (g *WSGateway) teardownSession(client *Client) {
	g.hub.LeaveAll(client)
	client.Close()

	wentOffline := g.presence.Unregister(client.UserID, client.SessionID)

	if g.metrics != nil {
		g.metrics.OpenSessions.Dec()
		g.metrics.OnlineUsers.Set(float64(g.presence.Len()))
	}

	if wentOffline {
		g.dispatcher.BroadcastPresence(client.UserID, false, client.SessionID)
	}

	g.log.Info("session.stop", "user_id", client.UserID, "session_id", client.SessionID, "went_offline", wentOffline)
}

// ---- handlers ----

func (g *WSGateway) onRoomJoin(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomKey := strings.TrimSpace(p.RoomKey)
	if roomKey == "" {
		return errors.New("missing room_key")
	}

	if err := g.authorizeRoom(ctx, client.UserID, roomKey); err != nil {
		return err
	}

	// Redundant joins are absorbed silently.
	g.hub.Join(roomKey, client)

	echoPayload, _ := json.Marshal(v1.RoomJoinPayload{RoomKey: roomKey})
	g.enqueue(ctx, client, g.newEnvelope(v1.TypeRoomJoin, echoPayload))
	return nil
}

func (g *WSGateway) onRoomLeave(client *Client, env v1.Envelope) {
	var p v1.RoomLeavePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}
	if key := strings.TrimSpace(p.RoomKey); key != "" {
		g.hub.Leave(key, client)
	}
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if strings.TrimSpace(p.TempID) == "" {
		return errors.New("missing temp_id")
	}

	content := strings.TrimSpace(p.Content)
	if content == "" && strings.TrimSpace(p.FileURL) == "" {
		return errors.New("empty message")
	}
	if len([]rune(content)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	roomKey, recipient, err := g.resolveSendTarget(ctx, client.UserID, p)
	if err != nil {
		return err
	}

	delivered := !IsGroupRoom(roomKey) && g.presence.Online(recipient)

	msg, duplicated, err := g.store.CreateMessage(ctx, CreateMessageInput{
		RoomKey:     roomKey,
		TempID:      p.TempID,
		SenderID:    client.UserID,
		RecipientID: recipient,
		Kind:        Kind(strings.TrimSpace(p.Kind)),
		Content:     content,
		FileURL:     strings.TrimSpace(p.FileURL),
		Delivered:   delivered,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store create: %w", err)
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		RoomKey:   msg.RoomKey,
		TempID:    msg.TempID,
		MessageID: msg.ID,
		Status:    string(msg.Status),
		Duplicate: duplicated,
	})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeMessageAck, ackPayload)) {
		return errors.New("backpressure: ack")
	}

	if duplicated {
		// Recognized replay from a flaky client: no-op ack to the
		// originator only, no re-broadcast.
		return nil
	}

	g.dispatcher.DispatchMessage(msg, client.SessionID)
	return nil
}

// resolveSendTarget derives the canonical room key and the logical recipient
// (peer user id or group id) for a send, enforcing group membership.
func (g *WSGateway) resolveSendTarget(ctx context.Context, senderID string, p v1.MessageSendPayload) (string, string, error) {
	groupID := strings.TrimSpace(p.GroupID)
	to := strings.TrimSpace(p.To)
	roomKey := strings.TrimSpace(p.RoomKey)

	if groupID == "" && roomKey != "" {
		if gid, ok := GroupIDFromRoom(roomKey); ok {
			groupID = gid
		}
	}

	if groupID != "" {
		ok, err := g.members.IsMember(ctx, senderID, groupID)
		if err != nil {
			return "", "", fmt.Errorf("membership check: %w", err)
		}
		if !ok {
			return "", "", ErrForbidden
		}
		key, err := GroupRoomKey(groupID)
		if err != nil {
			return "", "", err
		}
		return key, groupID, nil
	}

	if to == "" && roomKey != "" {
		a, b, ok := DirectRoomMembers(roomKey)
		if !ok {
			return "", "", fmt.Errorf("invalid room_key: %q", roomKey)
		}
		switch senderID {
		case a:
			to = b
		case b:
			to = a
		default:
			return "", "", ErrForbidden
		}
	}
	if to == "" {
		return "", "", errors.New("missing recipient")
	}

	key, err := DirectRoomKey(senderID, to)
	if err != nil {
		return "", "", err
	}
	if roomKey != "" && roomKey != key {
		return "", "", fmt.Errorf("room_key mismatch: %q", roomKey)
	}
	return key, to, nil
}

// onReactionSet sets or clears the sender's reaction. clear is true for the
// legacy removal aliases, whose payload names the emoji being removed and
// must not be interpreted as a set.
func (g *WSGateway) onReactionSet(ctx context.Context, client *Client, env v1.Envelope, clear bool) error {
	var p v1.ReactionSetPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return errors.New("missing message_id")
	}
	if clear {
		p.Reaction = nil
	}

	current, err := g.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if err := g.authorizeRoom(ctx, client.UserID, current.RoomKey); err != nil {
		return err
	}

	msg, err := g.store.SetReaction(ctx, p.MessageID, client.UserID, p.Reaction)
	if err != nil {
		return err
	}
	g.dispatcher.DispatchUpdate(msg, "")
	return nil
}

func (g *WSGateway) onMessageUnsend(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MessageUnsendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return errors.New("missing message_id")
	}

	msg, err := g.store.Unsend(ctx, p.MessageID, client.UserID)
	if err != nil {
		return err
	}

	g.dispatcher.DispatchUpdate(msg, "")
	return nil
}

func (g *WSGateway) onMessageHide(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MessageHidePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return errors.New("missing message_id")
	}

	msg, err := g.store.HideForMe(ctx, p.MessageID, client.UserID)
	if err != nil {
		return err
	}

	// Hide is per-user: confirm to the requester only, never broadcast.
	payload, _ := json.Marshal(MessageToWire(msg))
	g.enqueue(ctx, client, g.newEnvelope(v1.TypeMessageUpdated, payload))
	return nil
}

func (g *WSGateway) onMessageSeen(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MessageSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return errors.New("missing message_id")
	}

	msg, err := g.store.MarkSeen(ctx, p.MessageID, client.UserID)
	if err != nil {
		return err
	}

	g.dispatcher.DispatchUpdate(msg, "")
	return nil
}

func (g *WSGateway) onTyping(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	roomKey := strings.TrimSpace(p.RoomKey)
	if roomKey == "" {
		return errors.New("missing room_key")
	}
	if err := g.authorizeRoom(ctx, client.UserID, roomKey); err != nil {
		return err
	}

	payload, _ := json.Marshal(v1.TypingPayload{RoomKey: roomKey, UserID: client.UserID})
	g.dispatcher.DispatchRoomEvent(roomKey, g.newEnvelope(env.Type, payload), client.SessionID)
	return nil
}

func (g *WSGateway) onBacklogFetch(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.BacklogFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomKey := strings.TrimSpace(p.RoomKey)
	if roomKey == "" {
		return errors.New("missing room_key")
	}
	if err := g.authorizeRoom(ctx, client.UserID, roomKey); err != nil {
		return err
	}

	msgs, err := g.store.ListRoomMessages(ctx, roomKey, client.UserID, p.After)
	if err != nil {
		return err
	}

	wire := make([]v1.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, MessageToWire(m))
	}

	chunkPayload, _ := json.Marshal(v1.BacklogChunkPayload{
		RoomKey:  roomKey,
		Messages: wire,
	})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeBacklogChunk, chunkPayload)) {
		return errors.New("backpressure: backlog chunk")
	}
	return nil
}

// authorizeRoom enforces that userID may act on roomKey: a group member, a
// direct-room participant, or the owner of the private per-user room. A key
// that matches none of those shapes may still be the bare-group-id alias room
// older clients subscribe to, so membership is consulted before rejecting.
func (g *WSGateway) authorizeRoom(ctx context.Context, userID, roomKey string) error {
	if gid, ok := GroupIDFromRoom(roomKey); ok {
		return g.requireMember(ctx, userID, gid)
	}
	if IsDirectParticipant(roomKey, userID) {
		return nil
	}
	if roomKey == UserRoomKey(userID) {
		return nil
	}
	return g.requireMember(ctx, userID, roomKey)
}

func (g *WSGateway) requireMember(ctx context.Context, userID, groupID string) error {
	member, err := g.members.IsMember(ctx, userID, groupID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return ErrForbidden
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) sendFailure(ctx context.Context, client *Client, code string, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		code = "forbidden"
	case errors.Is(err, ErrNotFound):
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		code = "unauthorized"
	}
	g.trySendError(ctx, client, code, err.Error())
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, g.newEnvelope(v1.TypeError, p))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func (g *WSGateway) newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	now := time.Now().UTC()
	id, _ := NewEnvelopeID(now)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: payload,
	}
}

// writeDirectError writes an error envelope before the session loops exist.
func (g *WSGateway) writeDirectError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, g.newEnvelope(v1.TypeError, p), g.writeTimeout)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
