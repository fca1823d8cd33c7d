package api

import "encoding/json"

// Relay frame types
const (
	FrameMessage   = "message"    // данные между пирами
	FramePeerJoin  = "peer-join"  // в комнату вошел пир
	FramePeerLeave = "peer-leave" // пир покинул комнату
	FrameWelcome   = "welcome"    // сервер сообщает клиенту его id
	FrameDrop      = "drop"       // хост отключает пира
)

// CloseDropped is the websocket close code the relay sends to a peer
// disconnected by the room advertiser. 4000-4999 is the private range.
const CloseDropped = 4001

// Frame is the JSON unit exchanged over /api/v1/relay/{room}.
// To == "" means broadcast to every other peer in the room.
type Frame struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Welcome is the payload of the first frame a peer receives after joining.
// The advertiser is the first peer of the room; Peers lists the other members.
type Welcome struct {
	PeerID     string   `json:"peer_id"`
	Advertiser string   `json:"advertiser"`
	Peers      []string `json:"peers"`
}
