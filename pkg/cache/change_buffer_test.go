package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/persistence"
)

func TestChangeBufferAddWithoutReadIsFatal(t *testing.T) {
	p, c := newCacheEnv(t)

	assert.Panics(t, func() {
		_ = p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
			buffer := c.NewChangeBuffer(ChangeBufferOptions{})
			buffer.AddEntry(foundDoc(t, "rooms/a", 1, map[string]any{}), 1)
			return nil
		})
	})
}

func TestChangeBufferReadViaGetEntriesAllowsWrite(t *testing.T) {
	p, c := newCacheEnv(t)

	err := p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
		buffer := c.NewChangeBuffer(ChangeBufferOptions{})
		_, err := buffer.GetEntries(txn, []model.DocumentKey{model.MustDocumentKey("rooms/a")})
		require.NoError(t, err)
		buffer.AddEntry(foundDoc(t, "rooms/a", 1, map[string]any{}), 1)
		return buffer.Apply(txn)
	})
	require.NoError(t, err)
}

func TestChangeBufferStagedStateWinsOverCache(t *testing.T) {
	p, c := newCacheEnv(t)
	writeDocs(t, p, c, foundDoc(t, "rooms/a", 1, map[string]any{"n": 1}))

	_ = p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
		buffer := c.NewChangeBuffer(ChangeBufferOptions{})
		before, err := buffer.GetEntry(txn, model.MustDocumentKey("rooms/a"))
		require.NoError(t, err)
		assert.Equal(t, model.Version(1), before.Version)

		buffer.AddEntry(foundDoc(t, "rooms/a", 2, map[string]any{"n": 2}), 2)
		after, err := buffer.GetEntry(txn, model.MustDocumentKey("rooms/a"))
		require.NoError(t, err)
		assert.Equal(t, model.Version(2), after.Version, "buffered state visible to buffer reads")

		// The underlying cache is untouched until apply.
		raw, err := c.GetEntry(txn, model.MustDocumentKey("rooms/a"))
		require.NoError(t, err)
		assert.Equal(t, model.Version(1), raw.Version)
		return nil
	})
}

func TestChangeBufferMemoizesReads(t *testing.T) {
	p, c := newCacheEnv(t)
	key := model.MustDocumentKey("rooms/a")
	writeDocs(t, p, c, foundDoc(t, "rooms/a", 1, map[string]any{}))

	_ = p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
		buffer := c.NewChangeBuffer(ChangeBufferOptions{})
		first, err := buffer.GetEntry(txn, key)
		require.NoError(t, err)

		// Mutate the cache behind the buffer's back; the buffer must keep
		// serving its memoized read.
		other := c.NewChangeBuffer(ChangeBufferOptions{})
		_, err = other.GetEntry(txn, key)
		require.NoError(t, err)
		other.AddEntry(foundDoc(t, "rooms/a", 9, map[string]any{}), 9)
		require.NoError(t, other.Apply(txn))

		again, err := buffer.GetEntry(txn, key)
		require.NoError(t, err)
		assert.Equal(t, first.Version, again.Version)
		return nil
	})
}

func TestChangeBufferApplyTwiceIsFatal(t *testing.T) {
	p, c := newCacheEnv(t)

	assert.Panics(t, func() {
		_ = p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
			buffer := c.NewChangeBuffer(ChangeBufferOptions{})
			require.NoError(t, buffer.Apply(txn))
			return buffer.Apply(txn)
		})
	})
}

func TestUntrackedRemovalDeletesOutright(t *testing.T) {
	p, c := newCacheEnv(t)
	key := model.MustDocumentKey("rooms/a")
	writeDocs(t, p, c, foundDoc(t, "rooms/a", 3, map[string]any{}))

	err := p.Run(context.Background(), "remove", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
		buffer := c.NewChangeBuffer(ChangeBufferOptions{})
		if _, err := buffer.GetEntry(txn, key); err != nil {
			return err
		}
		buffer.RemoveEntry(key, 5)
		return buffer.Apply(txn)
	})
	require.NoError(t, err)

	_ = p.Run(context.Background(), "read", persistence.Readonly, func(txn *persistence.Transaction) error {
		doc, err := c.GetEntry(txn, key)
		require.NoError(t, err)
		assert.True(t, doc.Unknown(), "without tracking the entry disappears entirely")

		changed, _, err := c.GetNewDocumentChanges(txn, 0)
		require.NoError(t, err)
		_, ok := changed.Get(key)
		assert.False(t, ok, "no change-feed trace without tracking")
		return nil
	})
}

func TestChangeBufferAtomicApply(t *testing.T) {
	p, c := newCacheEnv(t)

	// Abort the enclosing transaction after apply; nothing may land.
	errFail := assert.AnError
	err := p.Run(context.Background(), "write", persistence.ReadwritePrimary, func(txn *persistence.Transaction) error {
		buffer := c.NewChangeBuffer(ChangeBufferOptions{})
		for _, path := range []string{"rooms/a", "rooms/b"} {
			if _, err := buffer.GetEntry(txn, model.MustDocumentKey(path)); err != nil {
				return err
			}
		}
		buffer.AddEntry(foundDoc(t, "rooms/a", 1, map[string]any{}), 1)
		buffer.AddEntry(foundDoc(t, "rooms/b", 1, map[string]any{}), 1)
		if err := buffer.Apply(txn); err != nil {
			return err
		}
		return errFail
	})
	require.ErrorIs(t, err, errFail)

	_ = p.Run(context.Background(), "read", persistence.Readonly, func(txn *persistence.Transaction) error {
		for _, path := range []string{"rooms/a", "rooms/b"} {
			doc, err := c.GetEntry(txn, model.MustDocumentKey(path))
			require.NoError(t, err)
			assert.True(t, doc.Unknown(), "%s must not survive the aborted transaction", path)
		}
		size, err := c.GetSize(txn)
		require.NoError(t, err)
		assert.Zero(t, size)
		return nil
	})
}
