package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defektu/oscquery/osc"
	"github.com/defektu/oscquery/tree"
)

// newQueryServer builds a server (not started) and an httptest wrapper
// around its query handler.
func newQueryServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s, err := NewServer(Options{}, Deps{})
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(s.handleQuery))
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func TestHTTP_RootTree(t *testing.T) {
	s, ts := newQueryServer(t)
	require.NoError(t, s.AddMethod("/foo/bar", tree.Opts{
		Access:    tree.AccessPtr(tree.AccessReadWrite),
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeInt)}},
	}))

	var root map[string]any
	status := getJSON(t, ts.URL+"/", &root)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "/", root["FULL_PATH"])
	contents := root["CONTENTS"].(map[string]any)
	require.Contains(t, contents, "foo")

	foo := contents["foo"].(map[string]any)
	bar := foo["CONTENTS"].(map[string]any)["bar"].(map[string]any)
	assert.Equal(t, "/foo/bar", bar["FULL_PATH"])
	assert.Equal(t, "i", bar["TYPE"])
	assert.Equal(t, float64(3), bar["ACCESS"])
}

func TestHTTP_Subtree(t *testing.T) {
	s, ts := newQueryServer(t)
	require.NoError(t, s.AddMethod("/a/b", tree.Opts{
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeFloat)}},
	}))

	var node map[string]any
	status := getJSON(t, ts.URL+"/a/b", &node)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/a/b", node["FULL_PATH"])
	assert.Equal(t, "f", node["TYPE"])
}

func TestHTTP_UnknownPath404(t *testing.T) {
	_, ts := newQueryServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/missing", nil))
}

func TestHTTP_AttributeProjection(t *testing.T) {
	s, ts := newQueryServer(t)
	require.NoError(t, s.AddMethod("/t", tree.Opts{
		Arguments: []osc.Argument{
			{Type: osc.NewType(osc.TypeString)},
			{
				Type:  osc.ArrayType(osc.NewType(osc.TypeInt), osc.NewType(osc.TypeFalse)),
				Range: &osc.Range{Elems: []*osc.Range{{Min: tree.Float64Ptr(-100)}, nil}},
			},
		},
	}))

	var proj map[string]any
	status := getJSON(t, ts.URL+"/t?TYPE", &proj)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"TYPE": "s[iF]"}, proj)

	var rangeProj map[string]any
	status = getJSON(t, ts.URL+"/t?RANGE", &rangeProj)
	require.Equal(t, http.StatusOK, status)
	entries := rangeProj["RANGE"].([]any)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0])
	nested := entries[1].([]any)
	require.Len(t, nested, 2)
	assert.Equal(t, map[string]any{"MIN": float64(-100)}, nested[0])
	assert.Nil(t, nested[1])
}

func TestHTTP_InvalidAttribute400(t *testing.T) {
	s, ts := newQueryServer(t)
	require.NoError(t, s.AddMethod("/x", tree.Opts{
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeInt)}},
	}))

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/x?BOGUS", nil))
}

func TestHTTP_ValueAccessGate(t *testing.T) {
	s, ts := newQueryServer(t)

	require.NoError(t, s.AddMethod("/ro", tree.Opts{
		Access:    tree.AccessPtr(tree.AccessReadOnly),
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeFloat)}},
	}))
	require.NoError(t, s.SetValue("/ro", 0, 0.5))

	require.NoError(t, s.AddMethod("/wo", tree.Opts{
		Access:    tree.AccessPtr(tree.AccessWriteOnly),
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeFloat)}},
	}))
	require.NoError(t, s.AddMethod("/container/leaf", tree.Opts{
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeInt)}},
	}))

	var proj map[string]any
	status := getJSON(t, ts.URL+"/ro?VALUE", &proj)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{0.5}, proj["VALUE"])

	// Write-only and no-value nodes answer 204.
	assert.Equal(t, http.StatusNoContent, getJSON(t, ts.URL+"/wo?VALUE", nil))
	assert.Equal(t, http.StatusNoContent, getJSON(t, ts.URL+"/container?VALUE", nil))
}

func TestHTTP_HostInfo(t *testing.T) {
	s, ts := newQueryServer(t)

	var info tree.HostInfo
	status := getJSON(t, ts.URL+"/?HOST_INFO", &info)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "OSCQuery", info.Name)
	assert.Equal(t, "UDP", info.OSCTransport)
	assert.True(t, info.Extensions["ACCESS"])
	assert.True(t, info.Extensions["VALUE"])
	assert.True(t, info.Extensions["CLIPMODE"])

	// The hub is not running: LISTEN must be absent.
	_, present := info.Extensions["LISTEN"]
	assert.False(t, present)
	_, present = info.Extensions["PATH_CHANGED"]
	assert.False(t, present)

	// HOST_INFO is answered at any path.
	status = getJSON(t, ts.URL+"/any/where?HOST_INFO", &info)
	assert.Equal(t, http.StatusOK, status)

	// With the hub running, the streaming extensions appear.
	s.hub.Start()
	status = getJSON(t, ts.URL+"/?HOST_INFO", &info)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, info.Extensions["LISTEN"])
	assert.True(t, info.Extensions["PATH_CHANGED"])
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	_, ts := newQueryServer(t)

	resp, err := http.Post(ts.URL+"/", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_CORSPreflight(t *testing.T) {
	_, ts := newQueryServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://editor.local")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://editor.local", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
}

func TestHTTP_RemoveCascade404(t *testing.T) {
	s, ts := newQueryServer(t)
	require.NoError(t, s.AddMethod("/g/h", tree.Opts{
		Arguments: []osc.Argument{{Type: osc.NewType(osc.TypeInt)}},
	}))
	require.NoError(t, s.RemoveMethod("/g/h"))

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/g/h", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/g", nil))
}
