package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	v1 "relay/shared/contracts/chat/v1"
)

// Dispatcher computes the subscriber set for an event and emits to each
// logical subscriber exactly once.
//
// A message fans out to its canonical room plus the alias rooms legacy
// clients may still be listening on (bare group ids, per-user private
// rooms). The subscriber set is deduplicated by session id across that whole
// alias set, and message dispatches are additionally gated by the
// reconciliation cache: a near-simultaneous duplicate dispatch of the same
// durable id (or the same temp id through a redundant code path) is
// suppressed before any emission.
//
// Emission is non-blocking: a slow subscriber's queue overflow drops that
// one delivery rather than stalling the rest; backlog replay recovers it.
type Dispatcher struct {
	log      *slog.Logger
	hub      *Hub
	presence *Presence
	recon    *ReconCache
	metrics  *Metrics
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log *slog.Logger, hub *Hub, presence *Presence, recon *ReconCache, metrics *Metrics) *Dispatcher {
	if recon == nil {
		recon = NewReconCache(0)
	}
	return &Dispatcher{
		log:      log,
		hub:      hub,
		presence: presence,
		recon:    recon,
		metrics:  metrics,
	}
}

// DispatchMessage fans out a freshly persisted message as message.new.
// excludeSessionID names the originating session, which reconciles via its
// ack instead. Returns false when the dispatch was suppressed as a duplicate.
func (d *Dispatcher) DispatchMessage(msg Message, excludeSessionID string) bool {
	// Record ids before emission so the racing duplicate loses.
	fresh := d.recon.Remember("msg:" + msg.ID)
	if msg.TempID != "" {
		if !d.recon.Remember("tmp:"+msg.RoomKey+":"+msg.TempID) && fresh {
			// Same logical send already dispatched under another durable id
			// (API write racing the socket path).
			fresh = false
		}
	}
	if !fresh {
		d.metrics.incSuppressed()
		d.log.Debug("dispatch.suppress.duplicate", "message_id", msg.ID, "temp_id", msg.TempID)
		return false
	}

	env := d.messageEnvelope(v1.TypeMessageNew, msg)
	d.fanout(candidateRooms(msg.RoomKey), env, excludeSessionID)
	d.metrics.incDispatched()
	return true
}

// DispatchUpdate fans out a message state change (reaction, tombstone, seen)
// as message.updated. Updates are idempotent state, not at-least-once
// payloads, so they bypass the reconciliation cache.
func (d *Dispatcher) DispatchUpdate(msg Message, excludeSessionID string) {
	env := d.messageEnvelope(v1.TypeMessageUpdated, msg)
	d.fanout(candidateRooms(msg.RoomKey), env, excludeSessionID)
}

// DispatchRoomEvent fans out a transient room-scoped event (typing).
func (d *Dispatcher) DispatchRoomEvent(roomKey string, env v1.Envelope, excludeSessionID string) {
	d.fanout(candidateRooms(roomKey), env, excludeSessionID)
}

// BroadcastPresence announces a presence transition to every live session
// except the subject's own.
func (d *Dispatcher) BroadcastPresence(userID string, online bool, excludeSessionID string) {
	payload, _ := json.Marshal(v1.PresenceUpdatePayload{UserID: userID, Online: online})
	env := d.newEnvelope(v1.TypePresenceUpdate, payload)

	for _, c := range d.presence.All() {
		if c == nil || c.SessionID == excludeSessionID || c.UserID == userID {
			continue
		}
		d.offer(c, env)
	}
}

// candidateRooms is the canonical room plus its legacy aliases.
func candidateRooms(roomKey string) []string {
	return append([]string{roomKey}, AliasRooms(roomKey)...)
}

// fanout collects the members of every candidate room, dedupes them by
// session id and offers the envelope to each at most once.
func (d *Dispatcher) fanout(rooms []string, env v1.Envelope, excludeSessionID string) {
	seen := make(map[string]struct{})

	for _, key := range rooms {
		room := d.hub.Room(key)
		if room == nil {
			continue
		}
		for _, m := range room.Members() {
			if m == nil || m.SessionID == excludeSessionID {
				continue
			}
			if _, dup := seen[m.SessionID]; dup {
				continue
			}
			seen[m.SessionID] = struct{}{}
			d.offer(m, env)
		}
	}
}

// offer enqueues non-blocking; a full queue or closing client drops the
// delivery. Backlog replay on reconnect is the recovery path.
func (d *Dispatcher) offer(c *Client, env v1.Envelope) {
	select {
	case <-c.Done():
		return
	default:
	}

	select {
	case c.Send <- env:
	default:
		d.metrics.incDropped()
		d.log.Info("dispatch.drop.backpressure", "session_id", c.SessionID, "user_id", c.UserID, "type", env.Type)
	}
}

func (d *Dispatcher) messageEnvelope(typ string, msg Message) v1.Envelope {
	payload, _ := json.Marshal(MessageToWire(msg))
	return d.newEnvelope(typ, payload)
}

func (d *Dispatcher) newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
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

// MessageToWire maps a canonical Message to its wire representation. The
// reaction map is normalized once more on the way out: rows written by older
// client generations are never trusted to be canonical at the source.
func MessageToWire(m Message) v1.MessagePayload {
	return v1.MessagePayload{
		MessageID:   m.ID,
		TempID:      m.TempID,
		RoomKey:     m.RoomKey,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Kind:        string(m.Kind),
		Content:     m.Content,
		FileURL:     m.FileURL,
		Reactions:   CanonicalReactions(m.Reactions),
		IsUnsent:    m.IsUnsent,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
	}
}
