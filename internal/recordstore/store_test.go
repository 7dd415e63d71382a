package recordstore

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tupa/internal/apperr"
)

// exerciseTable runs the shared contract against any backend
func exerciseTable(t *testing.T, table Table) {
	ctx := context.Background()

	first, err := table.Insert(ctx, Row(`{"title":"Forró","start_time":"2026-05-02T23:00:00.000000Z","creator_ref":"u1"}`))
	require.NoError(t, err)
	firstID := gjson.GetBytes(first, "id").String()
	require.NotEmpty(t, firstID)
	assert.NotEmpty(t, gjson.GetBytes(first, "created_at").String())

	_, err = table.Insert(ctx, Row(`{"title":"Samba","start_time":"2026-05-01T20:00:00.000000Z","creator_ref":"u2"}`))
	require.NoError(t, err)
	_, err = table.Insert(ctx, Row(`{"title":"Feira","start_time":"2026-05-03T09:00:00.000000Z","creator_ref":"u1"}`))
	require.NoError(t, err)

	rows, err := table.Select(ctx, Query{OrderBy: "start_time"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Samba", "Forró", "Feira"}, titles(rows))

	rows, err = table.Select(ctx, Query{OrderBy: "start_time", Descending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Feira", "Forró"}, titles(rows))

	rows, err = table.Select(ctx, Query{Filters: []Filter{{Field: "creator_ref", Value: "u1"}}, OrderBy: "start_time"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Forró", "Feira"}, titles(rows))

	updated, err := table.Update(ctx, firstID, Row(`{"title":"Forró pé de serra","id":"hijack"}`))
	require.NoError(t, err)
	assert.Equal(t, "Forró pé de serra", gjson.GetBytes(updated, "title").String())
	assert.Equal(t, firstID, gjson.GetBytes(updated, "id").String())
	assert.Equal(t, "u1", gjson.GetBytes(updated, "creator_ref").String())

	_, err = table.Update(ctx, "missing", Row(`{"title":"x"}`))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, table.Delete(ctx, firstID))
	assert.True(t, errors.Is(table.Delete(ctx, firstID), apperr.ErrNotFound))

	rows, err = table.Select(ctx, Eq("id", firstID))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = table.Select(ctx, Query{OrderBy: "title; drop table x"})
	assert.Error(t, err)
}

// exerciseTimeOrdering checks that time fields sort by instant, not by text
func exerciseTimeOrdering(t *testing.T, table Table) {
	ctx := context.Background()
	_, err := table.Insert(ctx, Row(`{"title":"Tarde","start_time":"2026-05-01T10:00:00-03:00"}`))
	require.NoError(t, err)
	_, err = table.Insert(ctx, Row(`{"title":"Meio-dia","start_time":"2026-05-01T12:00:00Z"}`))
	require.NoError(t, err)

	rows, err := table.Select(ctx, Query{OrderBy: "start_time"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Meio-dia", "Tarde"}, titles(rows))
}

func titles(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, gjson.GetBytes(r, "title").String())
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	exerciseTable(t, NewMemoryStore().Table("events"))
	exerciseTimeOrdering(t, NewMemoryStore().Table("events"))
}

func TestPostgresOrderExpr(t *testing.T) {
	assert.Equal(t, "(doc->>'start_time')::timestamptz", orderExpr("start_time"))
	assert.Equal(t, "(doc->>'updated_at')::timestamptz", orderExpr("updated_at"))
	assert.Equal(t, "doc->>'title'", orderExpr("title"))
}

func TestMemoryStoreCreatedAtOrdering(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	store.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})

	table := store.Table("vendors")
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, err := table.Insert(ctx, Row(`{"title":"`+title+`"}`))
		require.NoError(t, err)
	}

	rows, err := table.Select(ctx, Query{OrderBy: "created_at", Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, titles(rows))
	assert.Equal(t, "2026-05-01T12:00:01.000000Z", gjson.GetBytes(rows[2], "created_at").String())
}

func TestInsertRejectsNonObject(t *testing.T) {
	_, err := NewMemoryStore().Table("events").Insert(context.Background(), Row(`[1,2]`))
	assert.Error(t, err)
}

func TestRESTStoreAgainstDevServer(t *testing.T) {
	tests := []struct {
		name      string
		jwtSecret string
	}{
		{"api key bearer", ""},
		{"signed bearer", "dev-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewDevServer(NewMemoryStore(), DevServerOptions{APIKey: "anon", JWTSecret: tt.jwtSecret}, zerolog.Nop())
			srv := httptest.NewServer(dev.Handler())
			defer srv.Close()

			store := NewRESTStore(RESTOptions{
				BaseURL:           srv.URL + "/",
				APIKey:            "anon",
				JWTSecret:         tt.jwtSecret,
				Subject:           func() string { return "u1" },
				RequestsPerSecond: 1000,
			})
			defer store.Close()

			exerciseTable(t, store.Table("events"))
		})
	}
}

func TestRESTStoreRejectedKey(t *testing.T) {
	dev := NewDevServer(NewMemoryStore(), DevServerOptions{APIKey: "anon"}, zerolog.Nop())
	srv := httptest.NewServer(dev.Handler())
	defer srv.Close()

	store := NewRESTStore(RESTOptions{BaseURL: srv.URL, APIKey: "wrong", RequestsPerSecond: 1000})
	_, err := store.Table("events").Select(context.Background(), Query{})
	assert.True(t, errors.Is(err, apperr.ErrPermission))
}

func TestParseQueryRoundTrip(t *testing.T) {
	q := Query{
		Filters:    []Filter{{Field: "creator_ref", Value: "u1"}},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      100,
	}
	got, err := ParseQuery(EncodeQuery(q))
	require.NoError(t, err)
	assert.Equal(t, q, got)

	_, err = ParseQuery(map[string][]string{"title": {"like.*x*"}})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dbURL)
	require.NoError(t, err)
	defer store.Close()

	name := "test_events_" + time.Now().Format("20060102150405")
	defer store.pool.Exec(ctx, "DROP TABLE IF EXISTS "+name)

	exerciseTable(t, store.Table(name))

	timed := name + "_times"
	defer store.pool.Exec(ctx, "DROP TABLE IF EXISTS "+timed)
	exerciseTimeOrdering(t, store.Table(timed))
}
