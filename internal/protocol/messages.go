package protocol

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an inbound payload.
type Kind int

const (
	KindUnstructured Kind = iota
	KindKeepalive
	KindStatus
	KindCommand
)

var kindStrings = map[Kind]string{
	KindUnstructured: "unstructured",
	KindKeepalive:    "keepalive",
	KindStatus:       "status",
	KindCommand:      "command",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// Classify decides how a payload is routed. The checks run in a fixed
// order: keepalive, then status (any payload containing the status
// separator), then command.
func Classify(payload string) Kind {
	switch {
	case payload == KeepaliveRequest:
		return KindKeepalive
	case strings.Contains(payload, StatusSeparator):
		return KindStatus
	case strings.HasPrefix(payload, CommandSentinel):
		return KindCommand
	default:
		return KindUnstructured
	}
}

// ErrMalformedStatus is returned for a status report without a code.
var ErrMalformedStatus = errors.New("protocol: status report without code")

// Status is a parsed "text|code" report from the control server.
type Status struct {
	Text string
	Code string
}

// ParseStatus splits payload on the first status separator.
func ParseStatus(payload string) (Status, error) {
	text, code, ok := strings.Cut(payload, StatusSeparator)
	code = strings.TrimSpace(code)
	if !ok || code == "" {
		return Status{}, ErrMalformedStatus
	}
	return Status{Text: text, Code: code}, nil
}

// IsSuccess reports the authentication success code.
func (s Status) IsSuccess() bool {
	return s.Code == StatusAuthOK
}

// IsTerminal reports codes after which the client must stop.
func (s Status) IsTerminal() bool {
	switch s.Code {
	case StatusCritical, StatusInvalidLicense, StatusMissingLicense:
		return true
	}
	return false
}

var statusDescriptions = map[string]string{
	StatusAuthOK:         "authenticated",
	StatusUpdated:        "player status updated",
	StatusCritical:       "critical error",
	StatusInvalidLicense: "license key is invalid",
	StatusMissingLicense: "no license key provided",
	StatusUpdateFailed:   "player status update failed",
	StatusInvalidCommand: "invalid command",
	StatusInvalidRequest: "invalid request",
}

// Description returns a human readable meaning of the code.
func (s Status) Description() string {
	if d, ok := statusDescriptions[s.Code]; ok {
		return d
	}
	return "unknown status"
}

// ErrNotCommand is returned by ParseCommand for payloads that are not
// sentinel-prefixed or have no command name.
var ErrNotCommand = errors.New("protocol: not a command")

// Command is a parsed "!NAME~arg~arg" payload.
type Command struct {
	Name string
	Args []string
}

// ParseCommand strips the sentinel and splits the rest on the field
// separator.
func ParseCommand(payload string) (Command, error) {
	body, ok := strings.CutPrefix(payload, CommandSentinel)
	if !ok {
		return Command{}, ErrNotCommand
	}
	fields := strings.Split(body, FieldSeparator)
	if fields[0] == "" {
		return Command{}, ErrNotCommand
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// Arg returns the i-th argument. Missing and empty arguments are absent.
func (c Command) Arg(i int) (string, bool) {
	if i < 0 || i >= len(c.Args) || c.Args[i] == "" {
		return "", false
	}
	return c.Args[i], true
}

func command(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(CommandSentinel)
	b.WriteString(name)
	for _, a := range args {
		b.WriteString(FieldSeparator)
		b.WriteString(a)
	}
	return b.String()
}

// BeatMessage is the outbound keepalive.
const BeatMessage = KeepaliveReply

// AuthMessage builds "!AUTH~<key>".
func AuthMessage(key string) string {
	return command(CmdAuth, key)
}

// JoinMessage builds "!JOIN~<id>".
func JoinMessage(id uuid.UUID) string {
	return command(CmdJoin, id.String())
}

// QuitMessage builds "!QUIT~<id>".
func QuitMessage(id uuid.UUID) string {
	return command(CmdQuit, id.String())
}

// StatsMessage builds "!STATS~<id>|<json>".
func StatsMessage(id uuid.UUID, stats []byte) string {
	return command(CmdStats, id.String()+StatusSeparator+string(stats))
}
