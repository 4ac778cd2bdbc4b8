package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectservice/internal/config"
	"projectservice/internal/db"
	"projectservice/internal/migrate"
)

type recordingPublisher struct {
	msgs []Message
	fail map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, m Message) error {
	if p.fail[m.Type] {
		return errors.New("boom")
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func TestWriterAppendPersistsAndReturnsMessage(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	w := Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	msg, err := w.Append(ctx, tx, "stage.fulfilled", "", "stage", "s-1", "", EventPayload{"invited": 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "2024-01-01T00:00:00Z", msg.TS)
	assert.Equal(t, SystemActor, msg.ActorID)

	var typ, actor, payload string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT type,actor_id,payload_json FROM events`).Scan(&typ, &actor, &payload))
	assert.Equal(t, "stage.fulfilled", typ)
	assert.Equal(t, SystemActor, actor)
	assert.JSONEq(t, `{"invited":2}`, payload)
}

func TestPublishAllContinuesAfterFailure(t *testing.T) {
	p := &recordingPublisher{fail: map[string]bool{"a": true}}
	PublishAll(context.Background(), p, []Message{{Type: "a"}, {Type: "b"}, {Type: "c"}})
	require.Len(t, p.msgs, 2)
	assert.Equal(t, "b", p.msgs[0].Type)
	assert.Equal(t, "c", p.msgs[1].Type)

	PublishAll(context.Background(), nil, []Message{{Type: "a"}})
}

func TestNewPublisher(t *testing.T) {
	_, ok := NewPublisher(config.RedisConfig{}).(NopPublisher)
	assert.True(t, ok)

	p := NewPublisher(config.RedisConfig{Addr: "127.0.0.1:6379", Channel: "events"})
	rp, ok := p.(*RedisPublisher)
	require.True(t, ok)
	assert.Equal(t, "events", rp.channel)
	assert.NoError(t, rp.Close())
}

func TestRedisPublisherUnreachable(t *testing.T) {
	p := NewRedisPublisher(config.RedisConfig{Addr: "127.0.0.1:1", Channel: "events"})
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, p.Publish(ctx, Message{Type: "x"}))
}
