package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/db"
	"taskmarket/internal/events"
	"taskmarket/internal/migrate"
	"taskmarket/internal/relay"
	"taskmarket/internal/repo"
)

type fakePublisher struct {
	err  error
	sent []kafka.Message
}

func (f *fakePublisher) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return repo.Repo{DB: conn}
}

func emit(t *testing.T, r repo.Repo, typ, entity string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	w := events.Writer{DB: r.DB}
	require.NoError(t, w.Append(ctx, tx, events.Event{
		Type:       typ,
		Block:      1,
		EntityKind: "task",
		EntityID:   entity,
		Actor:      "0x0000000000000000000000000000000000000b0b",
		Payload:    events.EventPayload{"fee": "1"},
	}))
	require.NoError(t, tx.Commit())
}

func TestPublishOnceAdvancesCursor(t *testing.T) {
	r := newRepo(t)
	emit(t, r, "task.submitted", "0xaa")
	emit(t, r, "task.submitted", "0xbb")
	pub := &fakePublisher{}
	rl := relay.New(r, pub, 10, zerolog.Nop(), nil)
	ctx := context.Background()

	n, err := rl.PublishOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "0xaa", string(pub.sent[0].Key))
	require.Equal(t, "0xbb", string(pub.sent[1].Key))

	var env events.Envelope
	require.NoError(t, json.Unmarshal(pub.sent[0].Value, &env))
	require.Equal(t, "task.submitted", env.Type)
	require.JSONEq(t, `{"fee":"1"}`, string(env.Payload))

	n, err = rl.PublishOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	emit(t, r, "solution.submitted", "0xaa")
	n, err = rl.PublishOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, pub.sent, 3)
}

func TestPublishFailureKeepsCursor(t *testing.T) {
	r := newRepo(t)
	emit(t, r, "task.submitted", "0xaa")
	pub := &fakePublisher{err: errors.New("broker down")}
	rl := relay.New(r, pub, 10, zerolog.Nop(), nil)
	ctx := context.Background()

	_, err := rl.PublishOnce(ctx)
	require.Error(t, err)
	cursor, err := r.GetRelayCursor(ctx, relay.CursorName)
	require.NoError(t, err)
	require.Equal(t, int64(-1), cursor)

	pub.err = nil
	n, err := rl.PublishOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	cursor, err = r.GetRelayCursor(ctx, relay.CursorName)
	require.NoError(t, err)
	require.Positive(t, cursor)
}

func TestBatchSizeBoundsPublish(t *testing.T) {
	r := newRepo(t)
	for _, id := range []string{"0x01", "0x02", "0x03"} {
		emit(t, r, "task.submitted", id)
	}
	pub := &fakePublisher{}
	rl := relay.New(r, pub, 2, zerolog.Nop(), nil)

	n, err := rl.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = rl.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "0x03", string(pub.sent[2].Key))
}
