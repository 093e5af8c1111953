package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-round-service/internal/domain"
)

type recordingConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *recordingConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestPublishEncodesEvent(t *testing.T) {
	conn := &recordingConn{}
	p := NewPublisher(conn, "quiznight")
	option := 2
	event := domain.Event{
		ID:            "evt-1",
		Kind:          domain.EventAnswerRecord,
		GameID:        "game-1",
		PlayerID:      "p1",
		QuestionIndex: 3,
		Option:        &option,
		At:            time.Date(2026, 7, 1, 20, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "quiznight.game-1."+string(domain.EventAnswerRecord), msg.Subject)
	assert.Equal(t, "evt-1", msg.Header.Get(nats.MsgIdHdr))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event.PlayerID, decoded.PlayerID)
	require.NotNil(t, decoded.Option)
	assert.Equal(t, 2, *decoded.Option)
}

func TestSubjectEscapesGameID(t *testing.T) {
	p := NewPublisher(&recordingConn{}, "")
	got := p.Subject(domain.Event{GameID: "a.b*c>", Kind: domain.EventResults})
	assert.Equal(t, "trivia.a_b_c_."+string(domain.EventResults), got)
}

func TestPublishErrors(t *testing.T) {
	conn := &recordingConn{err: nats.ErrConnectionClosed}
	p := NewPublisher(conn, "trivia")
	err := p.Publish(context.Background(), domain.Event{Kind: domain.EventResults, GameID: "g"})
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, domain.Event{}), context.Canceled)
}
