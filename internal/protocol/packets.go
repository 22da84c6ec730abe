// Package protocol implements the DataLink wire format spoken between the
// game server and the control server. Every message is a text frame: a
// fixed-width ASCII length header followed by that many UTF-8 payload bytes.
// Payloads are either commands ("!NAME~arg~arg"), status reports
// ("text|code") or the keepalive literals.
package protocol

// HeaderWidth is the width of the length header in bytes. The control server
// pads the decimal length with spaces to exactly this many bytes.
const HeaderWidth = 10

// MaxPayloadSize is the largest declared payload length Decode accepts.
const MaxPayloadSize = 16 << 20

// Reserved characters.
const (
	CommandSentinel = "!"
	FieldSeparator  = "~"
	StatusSeparator = "|"
)

// Keepalive payloads.
const (
	KeepaliveRequest = "!heartbeat" // from the control server
	KeepaliveReply   = "!BEAT"      // our reply, also sent on our own ticker
)

// Status codes carried after the status separator.
const (
	StatusAuthOK         = "100"
	StatusUpdated        = "101"
	StatusCritical       = "000"
	StatusInvalidLicense = "001"
	StatusMissingLicense = "002"
	StatusUpdateFailed   = "003"
	StatusInvalidCommand = "004"
	StatusInvalidRequest = "005"
)

// Outbound command names.
const (
	CmdAuth  = "AUTH"
	CmdJoin  = "JOIN"
	CmdQuit  = "QUIT"
	CmdStats = "STATS"
)

// Inbound command names.
const (
	CmdSendAllPlayerStats = "sendAllPlayerStats"
	CmdSendPlayerStats    = "sendPlayerStats"
	CmdLoginPin           = "loginPin"
)
