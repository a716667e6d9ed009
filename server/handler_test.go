package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/protobuf/proto"

	"github.com/cloudshims/dsbridge/memstub"
	"github.com/cloudshims/dsbridge/translator"
)

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	s, err := memstub.New("dev~myapp")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewHandler(translator.New("dev~myapp", s, nil), nil, opts...)
}

func postJSON(h *Handler, method, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/v1/projects/myapp:"+method, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var tree map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree), "body: %s", w.Body.String())
	return tree
}

func errorStatus(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	tree := decodeJSON(t, w)
	e, ok := tree["error"].(map[string]interface{})
	require.True(t, ok, "body carries no error envelope: %s", w.Body.String())
	st, _ := e["status"].(string)
	msg, _ := e["message"].(string)
	return st, msg
}

func TestPing(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ok", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
}

func TestAllocateIdsHappyPath(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "allocateIds", heredoc.Doc(`
		{"keys": [{"path": [{"kind": "Foo"}]}]}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	tree := decodeJSON(t, w)
	keys := tree["keys"].([]interface{})
	require.Len(t, keys, 1)
	path := keys[0].(map[string]interface{})["path"].([]interface{})
	elem := path[0].(map[string]interface{})
	assert.Equal(t, "Foo", elem["kind"])
	id, ok := elem["id"].(string)
	require.True(t, ok, "id must serialize as a decimal string")
	assert.NotEmpty(t, id)
}

func TestAllocateIdsRejectsCompleteKey(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "allocateIds", heredoc.Doc(`
		{"keys": [{"path": [{"kind": "Foo", "id": "1"}]}]}
	`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	st, msg := errorStatus(t, w)
	assert.Equal(t, "INVALID_ARGUMENT", st)
	assert.Contains(t, msg, "complete")
}

func TestLookupMissingEntity(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "lookup", heredoc.Doc(`
		{"keys": [{"path": [{"kind": "K", "name": "nope"}]}]}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tree := decodeJSON(t, w)
	assert.Nil(t, tree["found"])
	missing := tree["missing"].([]interface{})
	require.Len(t, missing, 1)
	res := missing[0].(map[string]interface{})
	assert.Equal(t, "1", res["version"])
	ent := res["entity"].(map[string]interface{})
	require.NotNil(t, ent["key"])
}

func TestCommitInsertThenLookup(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "commit", heredoc.Doc(`
		{
			"mode": "NON_TRANSACTIONAL",
			"mutations": [{
				"insert": {
					"key": {"path": [{"kind": "K", "name": "a"}]},
					"properties": {"n": {"integerValue": "7"}}
				}
			}]
		}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(h, "lookup", `{"keys": [{"path": [{"kind": "K", "name": "a"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tree := decodeJSON(t, w)
	found := tree["found"].([]interface{})
	require.Len(t, found, 1)
	ent := found[0].(map[string]interface{})["entity"].(map[string]interface{})
	props := ent["properties"].(map[string]interface{})
	n := props["n"].(map[string]interface{})
	assert.Equal(t, "7", n["integerValue"])
}

func TestCommitInsertConflict(t *testing.T) {
	h := newTestHandler(t)

	body := `{"mode": "NON_TRANSACTIONAL", "mutations": [{"insert": {"key": {"path": [{"kind": "K", "name": "a"}]}}}]}`
	w := postJSON(h, "commit", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(h, "commit", body)
	require.Equal(t, http.StatusConflict, w.Code)
	st, _ := errorStatus(t, w)
	assert.Equal(t, "ALREADY_EXISTS", st)
}

func TestRunQueryKeysOnlyWithAncestor(t *testing.T) {
	h := newTestHandler(t)

	for _, name := range []string{"x", "y"} {
		w := postJSON(h, "commit", fmt.Sprintf(`
			{"mode": "NON_TRANSACTIONAL", "mutations": [{"upsert": {
				"key": {"path": [{"kind": "A", "name": "p"}, {"kind": "K", "name": %q}]}
			}}]}
		`, name))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := postJSON(h, "runQuery", heredoc.Doc(`
		{
			"query": {
				"kind": [{"name": "K"}],
				"projection": [{"property": {"name": "__key__"}}],
				"filter": {"propertyFilter": {
					"property": {"name": "__key__"},
					"op": "HAS_ANCESTOR",
					"value": {"keyValue": {"path": [{"kind": "A", "name": "p"}]}}
				}}
			}
		}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tree := decodeJSON(t, w)
	batch := tree["batch"].(map[string]interface{})
	assert.Equal(t, "KEY_ONLY", batch["entityResultType"])
	assert.Equal(t, "NO_MORE_RESULTS", batch["moreResults"])
	assert.Len(t, batch["entityResults"].([]interface{}), 2)
}

func TestProtobufFlavor(t *testing.T) {
	h := newTestHandler(t)

	req := &pb.LookupRequest{Keys: []*pb.Key{{
		Path: []*pb.Key_PathElement{{Kind: "K", IdType: &pb.Key_PathElement_Name{Name: "nope"}}},
	}}}
	raw, err := proto.Marshal(req)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/projects/myapp:lookup", bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/x-protobuf")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-protobuf", w.Header().Get("Content-Type"),
		"protobuf responses carry no charset parameter")

	resp := &pb.LookupResponse{}
	require.NoError(t, proto.Unmarshal(w.Body.Bytes(), resp))
	assert.Empty(t, resp.Found)
	require.Len(t, resp.Missing, 1)
	assert.Equal(t, int64(1), resp.Missing[0].Version)
}

func TestUnknownRPC(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "frobnicate", `{}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	st, msg := errorStatus(t, w)
	assert.Equal(t, "NOT_FOUND", st)
	assert.Equal(t, "RPC frobnicate not found.", msg)
}

func TestProjectMismatch(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/projects/other:lookup", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	st, _ := errorStatus(t, w)
	assert.Equal(t, "INVALID_ARGUMENT", st)
}

func TestUnsupportedContentType(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/projects/myapp:lookup", strings.NewReader("<xml/>"))
	r.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	st, _ := errorStatus(t, w)
	assert.Equal(t, "INVALID_ARGUMENT", st)
}

func TestMalformedJSONBody(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "lookup", `{"keys": [`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	st, _ := errorStatus(t, w)
	assert.Equal(t, "INVALID_ARGUMENT", st)
}

func TestHostCheck(t *testing.T) {
	h := newTestHandler(t, WithHostCheck("datastore.local:8080"))

	r := httptest.NewRequest(http.MethodPost, "/v1/projects/myapp:lookup", strings.NewReader(`{"keys": []}`))
	r.Header.Set("Content-Type", "application/json")
	r.Host = "elsewhere:9"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/v1/projects/myapp:lookup", strings.NewReader(`{"keys": []}`))
	r.Header.Set("Content-Type", "application/json")
	r.Host = "datastore.local:8080"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestNullValueSerializesAsLiteralNull(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "commit", heredoc.Doc(`
		{"mode": "NON_TRANSACTIONAL", "mutations": [{"upsert": {
			"key": {"path": [{"kind": "K", "name": "null"}]},
			"properties": {"gone": {"nullValue": null}}
		}}]}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(h, "lookup", `{"keys": [{"path": [{"kind": "K", "name": "null"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"nullValue":null`)
}

func TestPropertyNamedNullValueSurvives(t *testing.T) {
	h := newTestHandler(t)

	w := postJSON(h, "commit", heredoc.Doc(`
		{"mode": "NON_TRANSACTIONAL", "mutations": [{"upsert": {
			"key": {"path": [{"kind": "K", "name": "tricky"}]},
			"properties": {"nullValue": {"stringValue": "x"}}
		}}]}
	`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(h, "lookup", `{"keys": [{"path": [{"kind": "K", "name": "tricky"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tree := decodeJSON(t, w)
	found := tree["found"].([]interface{})
	require.Len(t, found, 1)
	ent := found[0].(map[string]interface{})["entity"].(map[string]interface{})
	props := ent["properties"].(map[string]interface{})
	val, ok := props["nullValue"].(map[string]interface{})
	require.True(t, ok, "the property's value object must come back intact: %s", w.Body.String())
	assert.Equal(t, "x", val["stringValue"])
}
