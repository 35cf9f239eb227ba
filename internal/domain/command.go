package domain

import (
	"fmt"
	"time"
)

// OriginKind says where a packet entered the relay.
type OriginKind int

const (
	OriginUpstream OriginKind = iota
	OriginClient
	OriginBridge
)

// Origin identifies the source of a packet. ClientID is set for OriginClient.
type Origin struct {
	Kind     OriginKind
	ClientID uint64
	Sender   string
}

// UpstreamOrigin is the origin of packets read from the gateway.
func UpstreamOrigin() Origin { return Origin{Kind: OriginUpstream} }

// ClientOrigin is the origin of packets read from a client session.
func ClientOrigin(id uint64) Origin { return Origin{Kind: OriginClient, ClientID: id} }

// BridgeOrigin is the origin of text injected by the chat bridge.
func BridgeOrigin(sender string) Origin { return Origin{Kind: OriginBridge, Sender: sender} }

func (o Origin) String() string {
	switch o.Kind {
	case OriginClient:
		return fmt.Sprintf("client:%d", o.ClientID)
	case OriginBridge:
		if o.Sender != "" {
			return "bridge:" + o.Sender
		}
		return "bridge"
	default:
		return "upstream"
	}
}

// PendingCommand is a trigger command whose answer has not been delivered.
type PendingCommand struct {
	ID          string
	Origin      Origin
	Channel     uint8
	Question    string
	SubmittedAt time.Time
}

// CommandStatus is the final state of a command.
type CommandStatus string

const (
	CommandAnswered  CommandStatus = "answered"
	CommandFailed    CommandStatus = "failed"
	CommandAbandoned CommandStatus = "abandoned"
)

// CommandRecord is written to the journal once a command finishes.
type CommandRecord struct {
	ID          string
	Origin      string
	Channel     uint8
	Question    string
	Answer      string
	Status      CommandStatus
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
}

// Record converts a pending command into its journal entry.
func (c PendingCommand) Record(status CommandStatus, answer string, err error, at time.Time) CommandRecord {
	r := CommandRecord{
		ID:          c.ID,
		Origin:      c.Origin.String(),
		Channel:     c.Channel,
		Question:    c.Question,
		Answer:      answer,
		Status:      status,
		SubmittedAt: c.SubmittedAt,
		CompletedAt: at,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
