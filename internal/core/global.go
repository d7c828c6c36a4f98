package core

import "context"

// GlobalTopic is the hub topic every global presence session subscribes to.
const GlobalTopic = "online-status"

// RoomPresence is the online count of one room as seen by a given user.
type RoomPresence struct {
	Key     string
	Name    string
	Private bool
	Online  int
}

// OnlineSummary is what a global presence session displays: who else is
// online in the public room and in each of the user's rooms.
type OnlineSummary struct {
	Public    int
	Rooms     []RoomPresence
	AnyOnline bool
}

// ConnectGlobal subscribes a connection to the online-status topic.
// cc.RoomKey is ignored.
func (c *Chat) ConnectGlobal(_ context.Context, cc ConnectionContext, conn Conn) (*GlobalSession, error) {
	g := newGlobalSession(cc.Token, cc.User, conn)
	if err := c.hub.Subscribe(GlobalTopic, g.token, g.deliver); err != nil {
		g.close()
		return nil, err
	}
	c.mu.Lock()
	c.globals[g.token] = g
	c.mu.Unlock()

	// Prime the first summary.
	_ = g.deliver(OnlineStatusChanged{})
	return g, nil
}

// DisconnectGlobal unsubscribes g. It is idempotent.
func (c *Chat) DisconnectGlobal(g *GlobalSession) {
	c.hub.Unsubscribe(GlobalTopic, g.token)
	c.mu.Lock()
	delete(c.globals, g.token)
	c.mu.Unlock()
	g.close()
}

// OnlineSummary computes the presence summary for userID across the public
// room and every room they belong to. The user never counts themself.
func (c *Chat) OnlineSummary(ctx context.Context, userID int64) (OnlineSummary, error) {
	rooms, err := c.registry.RoomsFor(ctx, userID)
	if err != nil {
		return OnlineSummary{}, err
	}

	sum := OnlineSummary{
		Public: c.presence.CountExcluding(c.registry.PublicKey(), userID),
		Rooms:  make([]RoomPresence, 0, len(rooms)),
	}
	sum.AnyOnline = sum.Public > 0
	for _, room := range rooms {
		rp := RoomPresence{
			Key:     room.Key,
			Name:    room.Name,
			Private: room.Private,
			Online:  c.presence.CountExcluding(room.Key, userID),
		}
		if rp.Online > 0 {
			sum.AnyOnline = true
		}
		sum.Rooms = append(sum.Rooms, rp)
	}
	return sum, nil
}
