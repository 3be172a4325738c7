package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"chat-fanout/internal/db"
	"chat-fanout/internal/models"
	"chat-fanout/internal/sequence"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestPool connects to TEST_DATABASE_URL, applies the migrations and
// empties every table. Tests using it are skipped without a database.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	log := zap.NewNop()
	pool, err := db.Connect(url, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.MigratePostgres(pool, log))
	require.NoError(t, db.MigratePostgres(pool, log))

	_, err = pool.Exec(context.Background(),
		`TRUNCATE message_reactions, messages, chat_members, reply_shortcuts, chats, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedPostgresChat(t *testing.T, pool *pgxpool.Pool, chatName string) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Email: chatName + "@example.com", Name: "sender"}
	require.NoError(t, NewUserRepo(pool).CreateUser(ctx, user))
	require.NoError(t, NewChatRepo(pool).CreateChat(ctx, &models.Chat{ChatName: chatName}, nil))
	return user
}

func TestPostgresConcurrentCreatesAreGapFree(t *testing.T) {
	pool := newTestPool(t)
	user := seedPostgresChat(t, pool, "c1")
	ctx := context.Background()

	// Two repos with their own assigners stand in for two server instances.
	repos := []*PostgresMessagesRepo{
		NewMessagesRepo(pool, sequence.NewAssigner(), zap.NewNop()),
		NewMessagesRepo(pool, sequence.NewAssigner(), zap.NewNop()),
	}

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &models.Message{ID: fmt.Sprintf("m%d", i), ChatID: "c1", SenderID: user.ID, Body: "x"}
			err := repos[i%len(repos)].Create(ctx, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seqs = append(seqs, msg.Sequence)
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, seqs)

	history, err := repos[0].ListByChat(ctx, "c1", 0, n+10)
	require.NoError(t, err)
	require.Len(t, history, n)
	for i, m := range history {
		assert.Equal(t, int64(i+1), m.Sequence)
	}
}

func TestPostgresCreateContinuesAfterLatest(t *testing.T) {
	pool := newTestPool(t)
	user := seedPostgresChat(t, pool, "c1")
	repo := NewMessagesRepo(pool, sequence.NewAssigner(), zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Create(ctx, &models.Message{ID: fmt.Sprintf("m%d", i), ChatID: "c1", SenderID: user.ID, Body: "x"}))
	}

	parent := "m5"
	msg := &models.Message{ID: "m6", ChatID: "c1", SenderID: user.ID, ParentMessageID: &parent, Body: "six"}
	require.NoError(t, repo.Create(ctx, msg))
	assert.Equal(t, int64(6), msg.Sequence)

	history, err := repo.ListByChat(ctx, "c1", 5, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m6", history[0].ID)
	require.NotNil(t, history[0].ParentMessageID)
	assert.Equal(t, "m5", *history[0].ParentMessageID)
}

func TestPostgresCreateDuplicateID(t *testing.T) {
	pool := newTestPool(t)
	user := seedPostgresChat(t, pool, "c1")
	repo := NewMessagesRepo(pool, sequence.NewAssigner(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Message{ID: "dup", ChatID: "c1", SenderID: user.ID, Body: "first"}))

	err := repo.Create(ctx, &models.Message{ID: "dup", ChatID: "c1", SenderID: user.ID, Body: "second"})
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	history, err := repo.ListByChat(ctx, "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].Body)
	assert.Equal(t, int64(1), history[0].Sequence)
}

func TestPostgresCreateUnknownChat(t *testing.T) {
	pool := newTestPool(t)
	user := seedPostgresChat(t, pool, "c1")
	repo := NewMessagesRepo(pool, sequence.NewAssigner(), zap.NewNop())

	err := repo.Create(context.Background(), &models.Message{ID: "m1", ChatID: "missing", SenderID: user.ID, Body: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateMessage)
}

func TestPostgresChats(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	users := NewUserRepo(pool)
	chats := NewChatRepo(pool)

	_, err := chats.GetChat(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	a := &models.User{Email: "a@example.com"}
	b := &models.User{Email: "b@example.com"}
	require.NoError(t, users.CreateUser(ctx, a))
	require.NoError(t, users.CreateUser(ctx, b))
	require.NoError(t, chats.CreateChat(ctx, &models.Chat{ChatName: "team", IsGroup: true}, []int64{a.ID, b.ID, a.ID}))

	chat, err := chats.GetChat(ctx, "team")
	require.NoError(t, err)
	assert.True(t, chat.IsGroup)
	assert.False(t, chat.CreatedAt.IsZero())

	var members int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM chat_members WHERE chat_id = $1`, "team").Scan(&members))
	assert.Equal(t, 2, members)
}

func TestPostgresUsers(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	users := NewUserRepo(pool)

	u := &models.User{Email: "u@example.com", Name: "u", RoleName: "admin"}
	require.NoError(t, users.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	got, err := users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", got.Email)
	assert.Equal(t, "admin", got.RoleName)

	_, err = users.GetUserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresShortcuts(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	users := NewUserRepo(pool)
	shortcuts := NewShortcutRepo(pool)

	a := &models.User{Email: "a@example.com"}
	b := &models.User{Email: "b@example.com"}
	require.NoError(t, users.CreateUser(ctx, a))
	require.NoError(t, users.CreateUser(ctx, b))

	ids, err := shortcuts.UsersWithoutShortcuts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids)

	set := []models.ReplyShortcut{{Shortcut: "Ctrl+1"}, {Shortcut: "Ctrl+2"}}
	require.NoError(t, shortcuts.CreateShortcuts(ctx, a.ID, set))
	require.NoError(t, shortcuts.CreateShortcuts(ctx, a.ID, set))

	ids, err = shortcuts.UsersWithoutShortcuts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, ids)
}
