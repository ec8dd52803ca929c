package backend

import "github.com/pigeon-im/pigeon/internal/chat"

// ChangeEvent is the closed set of store change notifications. The sealed
// marker method keeps the variant set fixed so consumers can switch
// exhaustively.
type ChangeEvent interface {
	changeEvent()
}

// MessageInserted carries a newly persisted message, own echoes included.
type MessageInserted struct {
	Message chat.Message
}

// MessageUpdated carries the full new state of an updated message row.
// In practice the only mutation is the seen flag.
type MessageUpdated struct {
	Message chat.Message
}

// ProfileUpdated carries the full new state of a profile row.
type ProfileUpdated struct {
	Profile chat.Profile
}

func (MessageInserted) changeEvent() {}
func (MessageUpdated) changeEvent()  {}
func (ProfileUpdated) changeEvent()  {}
