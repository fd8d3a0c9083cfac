package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ctfer-io/race-manager/pkg/race"
	"github.com/ctfer-io/race-manager/pkg/store"
	"github.com/ctfer-io/race-manager/server"
)

func newTestServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	srv := server.NewServer(server.Options{
		Coordinator: race.NewCoordinator(store.NewMemoryStore().WithPrefix("test: ")),
	})
	ts := httptest.NewServer(srv.Handler(t.Context()))
	t.Cleanup(ts.Close)
	return srv, ts
}

func claim(t *testing.T, ts *httptest.Server, id string) (int, server.RaceResponse) {
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, ts.URL+"/api/v1/race/"+id, nil)
	if err != nil {
		return 0, server.RaceResponse{}
	}
	req.Header.Set(server.RacerHeader, "tester")
	res, err := ts.Client().Do(req)
	if !assert.NoError(t, err) {
		return 0, server.RaceResponse{}
	}
	defer res.Body.Close()

	var rr server.RaceResponse
	if res.StatusCode == http.StatusOK {
		assert.NoError(t, json.NewDecoder(res.Body).Decode(&rr))
	}
	return res.StatusCode, rr
}

func end(t *testing.T, ts *httptest.Server, path string) int {
	req, err := http.NewRequestWithContext(t.Context(), http.MethodDelete, ts.URL+path, nil)
	require.NoError(t, err)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	return res.StatusCode
}

func Test_F_RaceOverHTTP(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t)

	var winners atomic.Int64
	eg := errgroup.Group{}
	for range 20 {
		eg.Go(func() error {
			code, rr := claim(t, ts, "checkout")
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, "checkout", rr.ID)
			if rr.Won {
				winners.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, int64(1), winners.Load(), "there should be exactly one winner")

	// Synchronous reset
	assert.Equal(t, http.StatusNoContent, end(t, ts, "/api/v1/race/checkout"))
	_, rr := claim(t, ts, "checkout")
	assert.True(t, rr.Won)

	// Fire-and-forget reset, flushed on shutdown
	assert.Equal(t, http.StatusAccepted, end(t, ts, "/api/v1/race/checkout?async=true"))
	require.NoError(t, srv.Shutdown(t.Context()))
	_, rr = claim(t, ts, "checkout")
	assert.True(t, rr.Won)
}

func Test_F_NestedIdentifier(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	_, rr := claim(t, ts, "tabs/checkout")
	assert.True(t, rr.Won)
	assert.Equal(t, "tabs/checkout", rr.ID)

	_, rr = claim(t, ts, "tabs")
	assert.True(t, rr.Won, "tabs and tabs/checkout are distinct races")
}

func Test_U_BadRequests(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	var tests = map[string]struct {
		Method       string
		Path         string
		ExpectedCode int
	}{
		"empty-id-race": {
			Method:       http.MethodPost,
			Path:         "/api/v1/race/",
			ExpectedCode: http.StatusBadRequest,
		},
		"empty-id-end": {
			Method:       http.MethodDelete,
			Path:         "/api/v1/race/",
			ExpectedCode: http.StatusBadRequest,
		},
		"invalid-async": {
			Method:       http.MethodDelete,
			Path:         "/api/v1/race/checkout?async=maybe",
			ExpectedCode: http.StatusBadRequest,
		},
		"unknown-method": {
			Method:       http.MethodPut,
			Path:         "/api/v1/race/checkout",
			ExpectedCode: http.StatusMethodNotAllowed,
		},
	}

	for testname, tt := range tests {
		t.Run(testname, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), tt.Method, ts.URL+tt.Path, nil)
			require.NoError(t, err)
			res, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.ExpectedCode, res.StatusCode)
			if tt.ExpectedCode == http.StatusBadRequest {
				var er server.ErrorResponse
				require.NoError(t, json.NewDecoder(res.Body).Decode(&er))
				assert.False(t, strings.TrimSpace(er.Error) == "")
			}
		})
	}
}

func Test_F_Healthcheck(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	res, err := ts.Client().Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
