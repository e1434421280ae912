package chatlog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreRecentTurns(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i, content := range []string{"一", "二", "三", "四"} {
		require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: content, CreatedAt: time.Unix(int64(i), 0)}))
	}
	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "s2", Role: RoleUser, Content: "other"}))

	got, err := s.RecentTurns(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "三", got[0].Content)
	assert.Equal(t, "四", got[1].Content)
	assert.NotEmpty(t, got[0].ID)

	all, err := s.RecentTurns(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.RecentTurns(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryStoreRecentTurnsReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: "a"}))

	got, err := s.RecentTurns(ctx, "s1", 1)
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, err := s.RecentTurns(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Content)
}

func TestInMemoryStoreListConversations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2025, 7, 7, 14, 0, 0, 0, time.UTC)
	long := strings.Repeat("测", 30)

	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "old", PersonID: "p1", Role: RoleUser, Content: "工时怎么算", CreatedAt: base}))
	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "old", PersonID: "p1", Role: RoleAssistant, Content: "按基准", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "new", PersonID: "p1", Role: RoleUser, Content: long, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.SaveTurn(ctx, TurnRecord{SessionID: "x", PersonID: "p2", Role: RoleUser, Content: "other", CreatedAt: base}))

	got, err := s.ListConversations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].SessionID)
	assert.Equal(t, string([]rune(long)[:titleRunes])+"…", got[0].Title)
	assert.Equal(t, "old", got[1].SessionID)
	assert.Equal(t, "工时怎么算", got[1].Title)
	assert.Equal(t, 2, got[1].Turns)
	assert.Equal(t, base.Add(time.Minute), got[1].UpdatedAt)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
	assert.NoError(t, s.Close())
}
