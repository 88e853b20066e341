package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewMessage("cell-a", "cell-b", "hello")
	require.NotEmpty(t, env.ID)

	data, err := env.Marshal()
	require.NoError(t, err)

	parsed, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, parsed.ID)
	assert.Equal(t, "cell-a", parsed.From)
	assert.Equal(t, TypeMessage, parsed.Type)
	assert.Equal(t, "hello", parsed.Content())
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{{`,
		"missing id":   `{"from":"a","to":"b","type":"message","payload":"x"}`,
		"unknown type": `{"id":"1","from":"a","to":"b","type":"telepathy","payload":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestContentShapes(t *testing.T) {
	t.Run("bare string payload", func(t *testing.T) {
		env := &Envelope{Payload: json.RawMessage(`"plain"`)}
		assert.Equal(t, "plain", env.Content())
	})

	t.Run("object payload", func(t *testing.T) {
		env := &Envelope{Payload: json.RawMessage(`{"content":"wrapped"}`)}
		assert.Equal(t, "wrapped", env.Content())
	})
}

func TestControlPayload(t *testing.T) {
	env := NewControl("swarm-ctl", "worker-2", ControlPayload{Command: "drain", GracePeriodSeconds: 30})
	cp, err := env.Control()
	require.NoError(t, err)
	assert.Equal(t, "drain", cp.Command)
	assert.Equal(t, 30, cp.GracePeriodSeconds)

	msg := NewMessage("a", "b", "hi")
	_, err = msg.Control()
	assert.Error(t, err)
}

func TestValidName(t *testing.T) {
	valid := []string{"a", "worker-0", "my-cell", "abc123", "a1"}
	for _, s := range valid {
		assert.True(t, ValidName(s), s)
	}

	invalid := []string{"", "-lead", "trail-", "Upper", "has.dot", "has*star", "x>", "a_b",
		"toolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongx"}
	for _, s := range invalid {
		assert.False(t, ValidName(s), s)
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "cell.prod.worker-0.inbox", InboxSubject("prod", "worker-0"))
	assert.Equal(t, "cell.prod.worker-0.outbox", OutboxSubject("prod", "worker-0"))
	assert.Equal(t, "cell.prod.worker-0.control", ControlSubject("prod", "worker-0"))
	assert.Equal(t, "cell.events.prod.worker-0", EventsSubject("prod", "worker-0"))
}
