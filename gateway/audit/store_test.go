package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"workescrow/core/events"
	"workescrow/core/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, nil)
	require.NoError(t, err)
	return store
}

func TestRecordAndListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i, typ := range []string{"escrow.deposited", "escrow.submitted", "escrow.claimed"} {
		require.NoError(t, store.Record(ctx, Record{
			Kind:      KindEvent,
			Type:      typ,
			Instance:  "0xabc",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Record(ctx, Record{Kind: KindRequest, Type: "POST /v1/instances", Caller: "0x2000"}))

	all, err := store.List(ctx, Filter{Instance: "0xABC"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "escrow.claimed", all[0].Type)
	require.NotEqual(t, uuid.Nil, all[0].ID)

	requests, err := store.List(ctx, Filter{Kind: KindRequest, Caller: "0x2000"})
	require.NoError(t, err)
	require.Len(t, requests, 1)

	limited, err := store.List(ctx, Filter{Kind: KindEvent, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestEmitWritesInBackground(t *testing.T) {
	store := newTestStore(t)
	store.Start()

	var emitter events.Emitter = store
	emitter.Emit(events.Typed{Evt: &types.Event{Type: "escrow.claimed", Attributes: map[string]string{
		"instance":   "0xABC",
		"contractId": "7",
		"contractor": "0x3000",
	}}})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		recs, err := store.List(ctx, Filter{Type: "escrow.claimed"})
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := store.List(ctx, Filter{Type: "escrow.claimed"})
	require.NoError(t, err)
	require.Equal(t, "0xabc", recs[0].Instance)
	require.Equal(t, "7", recs[0].ContractID)
	require.Equal(t, "0x3000", recs[0].Caller)
	require.Contains(t, recs[0].Attributes, `"contractId":"7"`)
	require.NoError(t, store.Close())
}

func TestMiddlewareRecordsMutatingRequests(t *testing.T) {
	store := newTestStore(t)
	store.Start()
	caller := common.HexToAddress("0x2000")

	handler := Middleware(store, func(*http.Request) (common.Address, bool) { return caller, true })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/instances", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/instances", nil))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		recs, err := store.List(ctx, Filter{Kind: KindRequest})
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	recs, err := store.List(ctx, Filter{Kind: KindRequest})
	require.NoError(t, err)
	require.Equal(t, "POST /v1/instances", recs[0].Type)
	require.Equal(t, http.StatusConflict, recs[0].Status)
	require.Equal(t, "0x0000000000000000000000000000000000002000", recs[0].Caller)
	require.NoError(t, store.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
}
