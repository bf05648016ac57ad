package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, OpenOptions{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitSchema(ctx, db, DriverSQLite))

	return NewStore(db, DriverSQLite)
}

func seedKB(t *testing.T, store *Store) *KnowledgeBase {
	t.Helper()
	kb := &KnowledgeBase{
		Name: "acts", VectorCollection: "kb_acts",
		EmbedProvider: "hash", EmbedModel: "hash-64", EmbedDim: 64,
	}
	require.NoError(t, store.KnowledgeBases.Create(context.Background(), kb))
	return kb
}

func seedFile(t *testing.T, store *Store, kb *KnowledgeBase, sha string) *KnowledgeFile {
	t.Helper()
	f := &KnowledgeFile{KBID: kb.ID, FileName: "act.md", SHA256: sha}
	require.NoError(t, store.Files.Create(context.Background(), f))
	return f
}

func TestKnowledgeBaseGetByRef(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	byName, err := store.KnowledgeBases.GetByRef(ctx, "acts")
	require.NoError(t, err)
	assert.Equal(t, kb.ID, byName.ID)

	byID, err := store.KnowledgeBases.GetByRef(ctx, kb.ID.String())
	require.NoError(t, err)
	assert.Equal(t, kb.Name, byID.Name)

	_, err = store.KnowledgeBases.GetByRef(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	f := seedFile(t, store, kb, "abc123")

	found, err := store.Files.GetBySHA256(ctx, kb.ID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, f.ID, found.ID)
	assert.Equal(t, IngestStatusPending, found.IngestStatus)

	_, err = store.Files.GetBySHA256(ctx, kb.ID, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	// The same content hash in the same KB is a conflict.
	dup := &KnowledgeFile{KBID: kb.ID, FileName: "copy.md", SHA256: "abc123"}
	assert.Error(t, store.Files.Create(ctx, dup))
}

func TestNodeOrderingAndPage(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	file := seedFile(t, store, kb, "sha-nodes")
	doc := &Document{KBID: kb.ID, FileID: file.ID, PageCount: 2, ParserName: "markdown"}
	require.NoError(t, store.Documents.Create(ctx, doc))

	texts := []string{"first node", "second node", "third node"}
	pages := []int{1, 1, 2}
	for i := range texts {
		require.NoError(t, store.Nodes.Create(ctx, &Node{
			KBID: kb.ID, FileID: file.ID, DocumentID: doc.ID,
			NodeIndex: i, Text: texts[i], Page: pages[i],
		}))
	}

	nodes, err := store.Nodes.ListByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	for i, n := range nodes {
		assert.Equal(t, i, n.NodeIndex)
	}

	page, err := store.Nodes.GetPage(ctx, doc.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "first node\n\nsecond node", page)

	truncated, err := store.Nodes.GetPage(ctx, doc.ID, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "first", truncated)

	_, err = store.Nodes.GetPage(ctx, doc.ID, 9, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNodeIndexUniquePerFile(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	file := seedFile(t, store, kb, "sha-unique")
	doc := &Document{KBID: kb.ID, FileID: file.ID, PageCount: 1, ParserName: "markdown"}
	require.NoError(t, store.Documents.Create(ctx, doc))

	base := Node{KBID: kb.ID, FileID: file.ID, DocumentID: doc.ID, NodeIndex: 0, Text: "a", Page: 1}
	first := base
	require.NoError(t, store.Nodes.Create(ctx, &first))

	second := base
	second.Text = "b"
	assert.Error(t, store.Nodes.Create(ctx, &second))
}

func TestMessageFinalize(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	conv := &Conversation{KBID: kb.ID}
	require.NoError(t, store.Conversations.Create(ctx, conv))

	msg := &Message{ConversationID: conv.ID, Role: MessageRoleAssistant, Status: MessageStatusPending}
	require.NoError(t, store.Messages.Create(ctx, msg))

	require.NoError(t, store.Messages.Finalize(ctx, msg.ID, MessageStatusSuccess, "the answer"))

	got, err := store.Messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, MessageStatusSuccess, got.Status)
	assert.Equal(t, "the answer", got.Content)

	assert.Error(t, store.Messages.Finalize(ctx, uuid.New(), MessageStatusFailed, ""))
}

func TestWithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	file := seedFile(t, store, kb, "sha-tx")

	err := store.WithTx(ctx, func(repos *Repositories) error {
		doc := &Document{KBID: kb.ID, FileID: file.ID, PageCount: 1, ParserName: "markdown"}
		if err := repos.Documents.Create(ctx, doc); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	// The document write must not have survived the rollback.
	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE file_id = $1`, file.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestRetrievalRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	kb := seedKB(t, store)
	ctx := context.Background()

	conv := &Conversation{KBID: kb.ID}
	require.NoError(t, store.Conversations.Create(ctx, conv))
	msg := &Message{ConversationID: conv.ID, Role: MessageRoleAssistant}
	require.NoError(t, store.Messages.Create(ctx, msg))

	rec := &RetrievalRecord{
		MessageID: msg.ID, KBID: kb.ID, QueryText: "breach notification",
		KeywordTopK: 10, VectorTopK: 10, FusionTopK: 8, RerankTopK: 8,
		FusionStrategy: "rrf", RerankStrategy: "none",
	}
	require.NoError(t, store.Retrieval.CreateRecord(ctx, rec))

	hits := []RetrievalHit{
		{RetrievalRecordID: rec.ID, NodeID: uuid.New(), Source: HitSourceFused, Rank: 1, Score: 0.9, Excerpt: "a", Page: 1},
		{RetrievalRecordID: rec.ID, NodeID: uuid.New(), Source: HitSourceFused, Rank: 2, Score: 0.5, Excerpt: "b", Page: 2},
		{RetrievalRecordID: rec.ID, NodeID: uuid.New(), Source: HitSourceKeyword, Rank: 1, Score: 0.8, Excerpt: "c", Page: 1},
	}
	require.NoError(t, store.Retrieval.InsertHits(ctx, hits))

	byMessage, err := store.Retrieval.GetRecordByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byMessage.ID)

	fused, err := store.Retrieval.ListHits(ctx, rec.ID, HitSourceFused)
	require.NoError(t, err)
	require.Len(t, fused, 2)
	assert.Equal(t, 1, fused[0].Rank)
	assert.Equal(t, 2, fused[1].Rank)

	all, err := store.Retrieval.ListHits(ctx, rec.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
