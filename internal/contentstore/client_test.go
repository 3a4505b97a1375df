package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newGateway(t *testing.T, handler http.HandlerFunc) *gateway {
	t.Helper()
	g := &gateway{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(g.server.Close)
	return g
}

func failing(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

func hanging(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
		}
	}
}

func serving(contentID string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/"+contentID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}
}

func testCID(t *testing.T, body []byte) string {
	t.Helper()
	id, err := SumCID(body)
	require.NoError(t, err)
	return id
}

func Test_Get_FallsBackToThirdGateway(t *testing.T) {
	body := []byte(`{"studentName":"Jane Doe"}`)
	id := testCID(t, body)

	g1 := newGateway(t, failing(http.StatusBadGateway))
	g2 := newGateway(t, hanging(2*time.Second))
	g3 := newGateway(t, serving(id, body))
	g4 := newGateway(t, serving(id, []byte("never reached")))

	client, err := NewClient(Config{
		Gateways:       []string{g1.server.URL, g2.server.URL, g3.server.URL, g4.server.URL},
		AttemptTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	data, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, int32(1), g1.hits.Load())
	assert.Equal(t, int32(1), g2.hits.Load())
	assert.Equal(t, int32(1), g3.hits.Load())
	assert.Equal(t, int32(0), g4.hits.Load())

	// immutable content is served from memory the second time
	data, err = client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, int32(1), g3.hits.Load())
}

func Test_Get_AllGatewaysFail(t *testing.T) {
	id := testCID(t, []byte("missing"))

	g1 := newGateway(t, failing(http.StatusInternalServerError))
	g2 := newGateway(t, failing(http.StatusNotFound))
	g3 := newGateway(t, hanging(time.Second))

	client, err := NewClient(Config{
		Gateways:       []string{g1.server.URL, g2.server.URL, g3.server.URL},
		AttemptTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	data, err := client.Get(context.Background(), id)
	require.Error(t, err)
	assert.Nil(t, data)
	assert.ErrorIs(t, err, ErrAllGatewaysFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, id, fetchErr.CID)
	require.Len(t, fetchErr.Attempts, 3)
	assert.Equal(t, g1.server.URL, fetchErr.Attempts[0].Gateway)
	assert.Equal(t, g3.server.URL, fetchErr.Attempts[2].Gateway)
}

func Test_Get_InvalidCID(t *testing.T) {
	g := newGateway(t, failing(http.StatusOK))
	client, err := NewClient(Config{Gateways: []string{g.server.URL, g.server.URL}})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "not-a-cid")
	assert.ErrorIs(t, err, ErrInvalidCID)
	assert.Equal(t, int32(0), g.hits.Load())
}

func Test_NewClient_RequiresTwoGateways(t *testing.T) {
	_, err := NewClient(Config{Gateways: []string{"https://ipfs.io"}})
	assert.Error(t, err)

	client, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Len(t, client.gateways, len(DefaultGateways))
}

func Test_URLFor(t *testing.T) {
	client, err := NewClient(Config{Gateways: []string{"https://gw.example/", "https://other.example"}})
	require.NoError(t, err)

	assert.Equal(t, "https://gw.example/ipfs/bafkqaaa", client.URLFor("bafkqaaa"))
	assert.Equal(t, client.URLFor("bafkqaaa"), client.URLFor("bafkqaaa"))
}

func Test_Put(t *testing.T) {
	pinned := testCID(t, []byte("pinned"))
	var calls atomic.Int32

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/pinning/pinJSONToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))

		var body struct {
			Content  map[string]string `json:"pinataContent"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"pinataMetadata"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jane Doe", body.Content["studentName"])
		assert.Equal(t, "credential-jane", body.Metadata.Name)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: pinned, PinSize: 42})
	}))
	defer api.Close()

	client, err := NewClient(Config{APIURL: api.URL, JWT: "test-jwt"})
	require.NoError(t, err)

	id, err := client.Put(context.Background(), map[string]string{"studentName": "Jane Doe"}, "credential-jane")
	require.NoError(t, err)
	assert.Equal(t, pinned, id)
	assert.Equal(t, int32(1), calls.Load())
}

func Test_Put_NotRetried(t *testing.T) {
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	client, err := NewClient(Config{APIURL: api.URL})
	require.NoError(t, err)

	_, err = client.Put(context.Background(), map[string]string{"a": "b"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(1), calls.Load())
}

func Test_PutFile(t *testing.T) {
	pinned := testCID(t, []byte("diploma.pdf"))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "diploma.pdf", header.Filename)
		assert.Equal(t, "%PDF-1.7", string(content))
		assert.Contains(t, r.FormValue("pinataMetadata"), "jane-diploma")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: pinned})
	}))
	defer api.Close()

	client, err := NewClient(Config{APIURL: api.URL})
	require.NoError(t, err)

	id, err := client.PutFile(context.Background(), strings.NewReader("%PDF-1.7"), "diploma.pdf", "jane-diploma")
	require.NoError(t, err)
	assert.Equal(t, pinned, id)
}

func Test_Pin_RejectsInvalidCID(t *testing.T) {
	var tests = map[string]struct {
		returned string
	}{
		"empty":   {returned: ""},
		"garbage": {returned: "not-a-cid"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: tt.returned})
			}))
			defer api.Close()

			client, err := NewClient(Config{APIURL: api.URL})
			require.NoError(t, err)

			id, err := client.PutFile(context.Background(), strings.NewReader("%PDF-1.7"), "diploma.pdf", "jane-diploma")
			assert.ErrorIs(t, err, ErrInvalidCID)
			assert.Empty(t, id)

			id, err = client.Put(context.Background(), map[string]string{"studentName": "Jane Doe"}, "credential-jane")
			assert.ErrorIs(t, err, ErrInvalidCID)
			assert.Empty(t, id)
		})
	}
}

func Test_ListAndUnpin(t *testing.T) {
	pinned := testCID(t, []byte("listed"))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/data/pinList":
			assert.Equal(t, "pinned", r.URL.Query().Get("status"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"count":1,"rows":[{"ipfs_pin_hash":"` + pinned + `","size":12,"date_pinned":"2024-05-01T10:00:00Z","metadata":{"name":"credential-jane"}}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/pinning/unpin/"+pinned:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	client, err := NewClient(Config{APIURL: api.URL})
	require.NoError(t, err)

	pins, err := client.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, pinned, pins[0].CID)
	assert.Equal(t, "credential-jane", pins[0].Metadata.Name)

	require.NoError(t, client.Unpin(context.Background(), pinned))
	assert.ErrorIs(t, client.Unpin(context.Background(), "bogus"), ErrInvalidCID)
}

func Test_MemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, err := store.Put(ctx, map[string]string{"k": "v"}, "a")
	require.NoError(t, err)
	b, err := store.Put(ctx, map[string]string{"k": "v"}, "b")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical content must share a content id")
	assert.Equal(t, 1, store.Len())

	data, err := store.Get(ctx, a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(data))

	missing := testCID(t, []byte("nope"))
	_, err = store.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "ipfs://"+a, store.URLFor(a))
}
