package electricraspberry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeStore_Relationships(t *testing.T) {
	db := gormDB(t)
	store := NewKnowledgeStore(db, nil)
	ctx := context.Background()

	rel, err := store.GetUserRelationship(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rel)

	rel, err = store.RecordInteraction(ctx, "alice", 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rel.Strength, 1e-9)
	assert.Equal(t, 1, rel.InteractionCount)
	assert.NotZero(t, rel.LastInteraction)

	rel, err = store.RecordInteraction(ctx, "alice", 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rel.Strength)
	assert.Equal(t, 2, rel.InteractionCount)

	rel, err = store.RecordInteraction(ctx, "alice", -5)
	require.NoError(t, err)
	assert.Zero(t, rel.Strength)

	got, err := store.GetUserRelationship(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.InteractionCount)
	assert.Equal(t, "alice", got.UserID)
}

func TestKnowledgeStore_Memories(t *testing.T) {
	db := gormDB(t)
	store := NewKnowledgeStore(db, nil)
	ctx := context.Background()

	require.NoError(t, store.RememberConversation(ctx, "c1", "alice", "golang", "talked about generics"))
	require.NoError(t, store.RememberConversation(ctx, "c1", "alice", "golang", "talked about iterators"))
	require.NoError(t, store.RememberConversation(ctx, "c2", "bob", "pizza", "pineapple debate"))
	require.NoError(t, store.RememberConversation(ctx, "c1", "carol", "chess", "openings"))

	topics, err := store.TopicsForParticipants(ctx, []string{"alice", "bob"}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"golang", "pizza"}, topics)

	topics, err = store.TopicsForParticipants(ctx, []string{"alice", "bob", "carol"}, 2)
	require.NoError(t, err)
	assert.Len(t, topics, 2)

	topics, err = store.TopicsForParticipants(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, topics)

	memories, err := store.MemoriesForChannel(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "chess", memories[0].Topic)
	assert.Equal(t, "talked about iterators", memories[1].Summary)

	memories, err = store.MemoriesForChannel(ctx, "empty", 5)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestKnowledgeStore_Implements(t *testing.T) {
	var _ KnowledgeService = (*KnowledgeStore)(nil)
	var _ KnowledgeGraph = (*KnowledgeStore)(nil)
	var _ interactionRecorder = (*KnowledgeStore)(nil)
}
