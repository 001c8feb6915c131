package patch

// Websocket frame types.
const (
	FrameJoin  = "join_project"
	FrameLeave = "leave_project"
	FrameSend  = "send_patch"
	FrameAck   = "ack"
	FramePatch = "patch"
)

// Frame is one websocket message in either direction. Requests carry an id
// that the matching ack echoes back.
type Frame struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Project string `json:"project,omitempty"`
	Patch   *Patch `json:"patch,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Version int64  `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ack builds the acknowledgement for request id.
func Ack(id, version int64, err error) Frame {
	f := Frame{Type: FrameAck, ID: id, OK: err == nil, Version: version}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}
