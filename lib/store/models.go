package store

// Seed is a user's encrypted-at-rest seed record. Created on first use (auto-generated if absent), immutable
// thereafter until explicit rotation.
type Seed struct {
	UserID    string `json:"userId" bson:"userId"`
	Encrypted []byte `json:"encrypted" bson:"encrypted"`
	CreatedAt int64  `json:"createdAt" bson:"createdAt"`
}

// ParticipantStatus enumerates a participant's bookkeeping status within an app session.
type ParticipantStatus string

// Participant statuses.
const (
	Invited ParticipantStatus = "invited"
	Joined  ParticipantStatus = "joined"
	Left    ParticipantStatus = "left"
)

// Participant is the local bookkeeping row for one (appSessionId, address, asset). Uniqueness is on that triple.
type Participant struct {
	AppSessionID string            `json:"appSessionId" bson:"appSessionId"`
	Address      string            `json:"address" bson:"address"`
	Asset        string            `json:"asset" bson:"asset"`
	Weight       uint32            `json:"weight" bson:"weight"`
	Balance      string            `json:"balance" bson:"balance"` // smallest units, decimal string
	Status       ParticipantStatus `json:"status" bson:"status"`
	LastSeenAt   *int64            `json:"lastSeenAt,omitempty" bson:"lastSeenAt,omitempty"`
}

// AppSessionStatus enumerates the lifecycle of an app session.
type AppSessionStatus string

// App session statuses.
const (
	SessionOpen   AppSessionStatus = "open"
	SessionClosed AppSessionStatus = "closed"
)

// AppSessionRecord is the local mirror of an app session's terminal bookkeeping fields.
type AppSessionRecord struct {
	AppSessionID string           `json:"appSessionId" bson:"appSessionId"`
	Status       AppSessionStatus `json:"status" bson:"status"`
	Version      uint64           `json:"version" bson:"version"`
	ClosedAt     *int64           `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
}

// ChannelRecord is the local bookkeeping row for a payment channel, keyed uniquely by (userId, chainId).
type ChannelRecord struct {
	UserID    string `json:"userId" bson:"userId"`
	ChainID   uint64 `json:"chainId" bson:"chainId"`
	ChannelID string `json:"channelId" bson:"channelId"`
	Version   uint64 `json:"version" bson:"version"`
	Status    string `json:"status" bson:"status"`
	UpdatedAt int64  `json:"updatedAt" bson:"updatedAt"`
}
