package supabaseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertSendsMergeDuplicatesPreference(t *testing.T) {
	var gotPrefer, gotAuth string
	var gotBody []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "service-key")
	err := c.Upsert(context.Background(), "hives", []map[string]any{{"id": 1, "name": "hive-1"}})
	require.NoError(t, err)
	require.Equal(t, "resolution=merge-duplicates,return=minimal", gotPrefer)
	require.Equal(t, "Bearer service-key", gotAuth)
	require.Len(t, gotBody, 1)
	require.EqualValues(t, 1, gotBody[0]["id"])
}

func TestUpsertSkipsRequestWhenNoRows(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, "service-key")
	require.NoError(t, c.Upsert(context.Background(), "hives", nil))
	require.False(t, called)
}

func TestUpsertReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("db unreachable"))
	}))
	defer srv.Close()

	c := New(srv.URL, "service-key")
	err := c.Upsert(context.Background(), "hives", []map[string]any{{"id": 1}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "db unreachable")
}

func TestSelectUpdatedSinceBuildsFilterQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]map[string]any{{"id": "abc", "updated_at": "2026-07-01T00:00:00.000Z"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "service-key")
	rows, err := c.SelectUpdatedSince(context.Background(), "inspections", "2026-06-01T00:00:00.000Z")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Contains(t, gotQuery, "updated_at=gt.2026-06-01T00%3A00%3A00.000Z")
}
