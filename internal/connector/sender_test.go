package connector

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/protocol"
)

func TestSenderSerializesConcurrentWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	const writers, perWriter = 8, 50
	sender := NewSender(client, time.Second, nil)

	received := make(chan string, writers*perWriter)
	go func() {
		for {
			payload, err := protocol.ReadFrame(server)
			if err != nil {
				close(received)
				return
			}
			received <- string(payload)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				// Vary the length so interleaving would corrupt the headers.
				payload := fmt.Sprintf("!JOIN~%d-%d-%s", w, i, strings.Repeat("x", i))
				assert.NoError(t, sender.Send(payload))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for len(seen) < writers*perWriter {
		select {
		case payload, ok := <-received:
			require.True(t, ok, "stream ended early")
			require.True(t, strings.HasPrefix(payload, "!JOIN~"), payload)
			seen[payload] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d frames", len(seen), writers*perWriter)
		}
	}
}

func TestSenderAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSender(client, time.Second, nil)
	sender.Close()

	assert.ErrorIs(t, sender.Send("!BEAT"), ErrNotConnected)
}

func TestSenderWriteFailure(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	sender := NewSender(client, time.Second, nil)
	err := sender.Send("!BEAT")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

func TestSenderRejectsOversizedPayloadWithoutWriting(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSender(client, time.Second, nil)
	err := sender.Send(strings.Repeat("x", protocol.MaxPayloadSize+1))
	assert.ErrorIs(t, err, protocol.ErrFraming)

	// The pipe is unbuffered: a partial write would have blocked above, and
	// the connection still carries the next frame intact.
	got := make(chan []byte, 1)
	go func() {
		payload, _ := protocol.ReadFrame(server)
		got <- payload
	}()
	require.NoError(t, sender.Send("!BEAT"))
	assert.Equal(t, "!BEAT", string(<-got))
}
