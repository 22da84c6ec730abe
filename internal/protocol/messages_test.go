package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		payload string
		want    Kind
	}{
		{"!heartbeat", KindKeepalive},
		{"Authenticated|100", KindStatus},
		{"!STATS~x|{}", KindStatus},
		{"!sendAllPlayerStats", KindCommand},
		{"!heartbeat2", KindCommand},
		{"hello there", KindUnstructured},
		{"", KindUnstructured},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.payload))
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Authenticated|100")
	require.NoError(t, err)
	assert.Equal(t, "Authenticated", st.Text)
	assert.Equal(t, "100", st.Code)
	assert.True(t, st.IsSuccess())
	assert.False(t, st.IsTerminal())

	for _, code := range []string{"000", "001", "002"} {
		st, err := ParseStatus("nope|" + code)
		require.NoError(t, err)
		assert.True(t, st.IsTerminal(), code)
		assert.False(t, st.IsSuccess(), code)
	}

	for _, code := range []string{"101", "003", "004", "005", "999"} {
		st, err := ParseStatus("info|" + code)
		require.NoError(t, err)
		assert.False(t, st.IsTerminal(), code)
	}

	_, err = ParseStatus("missing code|")
	assert.ErrorIs(t, err, ErrMalformedStatus)

	_, err = ParseStatus("no separator")
	assert.ErrorIs(t, err, ErrMalformedStatus)
}

func TestStatusDescription(t *testing.T) {
	assert.Equal(t, "license key is invalid", Status{Code: StatusInvalidLicense}.Description())
	assert.Equal(t, "unknown status", Status{Code: "777"}.Description())
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("!loginPin~0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11~4711")
	require.NoError(t, err)
	assert.Equal(t, CmdLoginPin, cmd.Name)

	id, ok := cmd.Arg(0)
	assert.True(t, ok)
	assert.Equal(t, "0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11", id)
	pin, ok := cmd.Arg(1)
	assert.True(t, ok)
	assert.Equal(t, "4711", pin)
	_, ok = cmd.Arg(2)
	assert.False(t, ok)

	cmd, err = ParseCommand("!sendAllPlayerStats")
	require.NoError(t, err)
	assert.Equal(t, CmdSendAllPlayerStats, cmd.Name)
	assert.Empty(t, cmd.Args)

	cmd, err = ParseCommand("!sendPlayerStats~")
	require.NoError(t, err)
	_, ok = cmd.Arg(0)
	assert.False(t, ok)

	_, err = ParseCommand("!")
	assert.ErrorIs(t, err, ErrNotCommand)
	_, err = ParseCommand("sendAllPlayerStats")
	assert.ErrorIs(t, err, ErrNotCommand)
}

func TestOutboundBuilders(t *testing.T) {
	id := uuid.MustParse("0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11")

	assert.Equal(t, "!AUTH~secret", AuthMessage("secret"))
	assert.Equal(t, "!JOIN~0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11", JoinMessage(id))
	assert.Equal(t, "!QUIT~0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11", QuitMessage(id))
	assert.Equal(t, `!STATS~0b9ecf5f-05a3-4c5f-9f33-7f6c0d0e4a11|{"kills":3}`, StatsMessage(id, []byte(`{"kills":3}`)))
	assert.Equal(t, "!BEAT", BeatMessage)
}
