package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
)

func intPtr(i int) *int { return &i }

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	st, err := Open(DriverSQLite, dsn, schema.Default(), Options{Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func annotation(doc, field string, lineItem *int, raw string) Annotation {
	return Annotation{
		DocumentID:      doc,
		Page:            0,
		Rect:            geometry.Rect{X0: 10, Y0: 20, X1: 110, Y1: 40},
		FieldName:       field,
		LineItem:        lineItem,
		RawValue:        raw,
		NormalizedValue: raw,
		Normalized:      true,
		Mode:            "draw",
	}
}

func TestUpsert_LaterValueWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Upsert(ctx, annotation("doc-a", "customer_name", nil, "ACME"))
	require.NoError(t, err)
	second, err := st.Upsert(ctx, annotation("doc-a", "customer_name", nil, "ACME Corp"))
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	list, err := st.ListForDocument(ctx, "doc-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ACME Corp", list[0].Value())
	assert.Equal(t, second.ID, list[0].ID)
	assert.Nil(t, list[0].LineItem)
	assert.Equal(t, geometry.Rect{X0: 10, Y0: 20, X1: 110, Y1: 40}, list[0].Rect)

	history, err := st.History(ctx, "doc-a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ACME", history[0].RawValue)
	assert.Equal(t, reasonSuperseded, history[0].Reason)
	require.NotNil(t, history[0].SupersededAt)
}

func TestUpsert_LineItemsAreDistinctKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, annotation("doc", "part_number", intPtr(0), "A-1"))
	require.NoError(t, err)
	_, err = st.Upsert(ctx, annotation("doc", "part_number", intPtr(1), "A-2"))
	require.NoError(t, err)
	_, err = st.Upsert(ctx, annotation("doc", "part_number", intPtr(0), "A-1b"))
	require.NoError(t, err)

	list, err := st.ListForDocument(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, *list[0].LineItem)
	assert.Equal(t, "A-1b", list[0].RawValue)
	assert.Equal(t, 1, *list[1].LineItem)
}

func TestUpsert_Validation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		a    Annotation
	}{
		{"missing document", annotation("", "currency", nil, "EUR")},
		{"missing field", annotation("doc", "", nil, "EUR")},
		{"negative line item", annotation("doc", "quantity", intPtr(-2), "4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Upsert(ctx, tt.a)
			assert.True(t, errors.Is(err, annerrors.ErrInvalidArgument))
		})
	}
}

func TestListForDocument_SchemaOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	writes := []Annotation{
		annotation("doc", "quantity", intPtr(1), "2"),
		annotation("doc", "part_number", intPtr(1), "B"),
		annotation("doc", "due_date", nil, "2024-01-02"),
		annotation("doc", "part_number", intPtr(0), "A"),
		annotation("doc", "document_name", nil, "RFQ 7"),
		annotation("other", "document_name", nil, "elsewhere"),
	}
	for _, a := range writes {
		_, err := st.Upsert(ctx, a)
		require.NoError(t, err)
	}

	list, err := st.ListForDocument(ctx, "doc")
	require.NoError(t, err)

	var got []string
	for _, a := range list {
		key := a.FieldName
		if a.LineItem != nil {
			key = fmt.Sprintf("%d:%s", *a.LineItem, a.FieldName)
		}
		got = append(got, key)
	}
	assert.Equal(t, []string{"document_name", "due_date", "0:part_number", "1:part_number", "1:quantity"}, got)

	docs, err := st.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc", "other"}, docs)
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 10; i++ {
		a, err := st.Upsert(ctx, annotation("doc", "description", intPtr(i%3), fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		assert.Greater(t, a.ID, last)
		last = a.ID
	}
}

func TestNew_SeedsIDFromExistingRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.Upsert(ctx, annotation("doc", "currency", nil, "USD"))
	require.NoError(t, err)
	_, err = st.Upsert(ctx, annotation("doc", "currency", nil, "EUR"))
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, "doc", "currency", nil))

	reopened, err := New(st.db, schema.Default(), Options{})
	require.NoError(t, err)
	b, err := reopened.Upsert(ctx, annotation("doc", "currency", nil, "GBP"))
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID+1)
}

func TestDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, annotation("doc", "quantity", intPtr(0), "5"))
	require.NoError(t, err)

	require.NoError(t, st.Delete(ctx, "doc", "quantity", intPtr(0)))
	err = st.Delete(ctx, "doc", "quantity", intPtr(0))
	assert.True(t, errors.Is(err, annerrors.ErrNotFound))

	list, err := st.ListForDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, list)

	history, err := st.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, reasonDeleted, history[0].Reason)
	assert.Equal(t, 0, *history[0].LineItem)
}

func TestDeleteDocument(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, raw := range []string{"x", "y"} {
		_, err := st.Upsert(ctx, annotation("gone", "buyer_name", nil, raw))
		require.NoError(t, err)
	}
	_, err := st.Upsert(ctx, annotation("kept", "buyer_name", nil, "z"))
	require.NoError(t, err)

	require.NoError(t, st.DeleteDocument(ctx, "gone"))

	list, err := st.ListForDocument(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, list)
	history, err := st.History(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, history)

	list, err = st.ListForDocument(ctx, "kept")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpsert_ConcurrentDocuments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for d := 0; d < 4; d++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(doc string, item int) {
				defer wg.Done()
				_, err := st.Upsert(ctx, annotation(doc, "part_number", intPtr(item%5), fmt.Sprintf("p%d", item)))
				errs <- err
			}(fmt.Sprintf("doc-%d", d), i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for d := 0; d < 4; d++ {
		doc := fmt.Sprintf("doc-%d", d)
		list, err := st.ListForDocument(ctx, doc)
		require.NoError(t, err)
		assert.Len(t, list, 5, doc)

		history, err := st.History(ctx, doc)
		require.NoError(t, err)
		assert.Len(t, history, 5, doc)
	}
	assert.Equal(t, 0, st.locks.size())
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestSortForSchema_UnknownFieldsLast(t *testing.T) {
	list := []Annotation{
		{ID: 3, FieldName: "zz_custom"},
		{ID: 2, FieldName: "currency"},
		{ID: 1, FieldName: "aa_custom"},
	}
	SortForSchema(list, schema.Default())
	assert.Equal(t, "currency", list[0].FieldName)
	assert.Equal(t, "aa_custom", list[1].FieldName)
	assert.Equal(t, "zz_custom", list[2].FieldName)
}
