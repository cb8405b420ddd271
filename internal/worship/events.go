package worship

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventRoomCreated           = "room.created"
	EventRoomDeleted           = "room.deleted"
	EventParticipantJoined     = "participant.joined"
	EventParticipantLeft       = "participant.left"
	EventParticipantPromoted   = "participant.promoted"
	EventParticipantWaitlisted = "participant.waitlisted"
	EventPresence              = "participant.active"
	EventParticipantRole       = "participant.role_changed"
	EventParticipantInvited    = "participant.invited"
	EventTrackAdded            = "queue.track_added"
	EventTrackRemoved          = "queue.track_removed"
	EventVoteChanged           = "queue.vote_changed"
	EventQueueReordered        = "queue.reordered"
	EventPlaybackChanged       = "player.state_changed"
	EventSkipVotes             = "player.skip_votes"
	EventSyncState             = "player.sync_state"
)

const eventsChannel = "worship.events"

// Envelope is the wire format of every broadcast event.
type Envelope struct {
	Type            string    `json:"type"`
	RoomID          string    `json:"roomId"`
	Payload         any       `json:"payload"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

func newEnvelope(roomID, typ string, payload any) Envelope {
	return Envelope{
		Type:            typ,
		RoomID:          roomID,
		Payload:         payload,
		ServerTimestamp: time.Now().UTC(),
	}
}

// Gateway fans room events out to subscribers. With redis configured events
// travel through a pub/sub channel so every instance's hubs see them; without
// redis they loop back to the local hubs directly.
type Gateway struct {
	rooms *RoomManager
	rdb   *redis.Client
}

func NewGateway(rooms *RoomManager, rdb *redis.Client) *Gateway {
	return &Gateway{rooms: rooms, rdb: rdb}
}

// Broadcast is fire-and-forget: a delivery failure never fails the command
// that produced the event. Clients that miss events recover via sync.
func (g *Gateway) Broadcast(ctx context.Context, roomID, typ string, payload any) {
	data, err := json.Marshal(newEnvelope(roomID, typ, payload))
	if err != nil {
		log.Printf("worship-service: marshal event %s: %v", typ, err)
		return
	}
	if g.rdb == nil {
		g.rooms.Deliver(roomID, data)
		return
	}
	if err := g.rdb.Publish(ctx, eventsChannel, string(data)).Err(); err != nil {
		log.Printf("worship-service: publish event %s: %v", typ, err)
	}
}

// RunSubscriber consumes the shared event channel and routes each event to
// the owning room's hub. Publish order is preserved per room.
func (g *Gateway) RunSubscriber(ctx context.Context) {
	if g.rdb == nil {
		return
	}
	sub := g.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("worship-service: decode event: %v", err)
				continue
			}
			g.rooms.Deliver(env.RoomID, []byte(msg.Payload))
		}
	}
}
