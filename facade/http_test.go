package facade

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gofiber/fiber/v3"

	"collision-kv/store"
)

func newTestApp(t *testing.T) (*fiber.App, *store.Store) {
	st, err := store.New(t.TempDir(), store.WithPrefixBits(1))
	assert.Equal(t, err, nil)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil), st
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, []byte) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	assert.Equal(t, err, nil)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	assert.Equal(t, err, nil)
	return resp.StatusCode, b
}

func TestFacade_PutGetDelete(t *testing.T) {
	app, _ := newTestApp(t)

	code, _ := do(t, app, http.MethodGet, "/hello", "")
	assert.Equal(t, code, http.StatusNotFound)

	code, body := do(t, app, http.MethodPost, "/hello", `{"value":"world"}`)
	assert.Equal(t, code, http.StatusOK)
	var put PutResponse
	assert.Equal(t, json.Unmarshal(body, &put), nil)
	assert.Equal(t, put.Success, true)

	code, body = do(t, app, http.MethodGet, "/hello", "")
	assert.Equal(t, code, http.StatusOK)
	var get GetResponse
	assert.Equal(t, json.Unmarshal(body, &get), nil)
	assert.Equal(t, get.Value, "world")

	code, _ = do(t, app, http.MethodDelete, "/hello", "")
	assert.Equal(t, code, http.StatusOK)
	code, _ = do(t, app, http.MethodGet, "/hello", "")
	assert.Equal(t, code, http.StatusNotFound)
}

func TestFacade_BadBody(t *testing.T) {
	app, _ := newTestApp(t)
	code, _ := do(t, app, http.MethodPost, "/hello", `{"value":`)
	assert.Equal(t, code, http.StatusBadRequest)
}

func TestFacade_Prefix(t *testing.T) {
	app, st := newTestApp(t)
	keys := []string{"d", "a", "c", "b", "e"}
	for _, k := range keys {
		assert.Equal(t, st.Put([]byte(k), []byte("v-"+k)), nil)
	}

	var all []Pair
	for _, prefix := range []string{"0", "1"} {
		code, body := do(t, app, http.MethodGet, "/prefix/"+prefix, "")
		assert.Equal(t, code, http.StatusOK)
		var pairs []Pair
		assert.Equal(t, json.Unmarshal(body, &pairs), nil)
		for i := 1; i < len(pairs); i++ {
			assert.Equal(t, pairs[i-1].Key < pairs[i].Key, true)
		}
		all = append(all, pairs...)
	}
	assert.Equal(t, len(all), len(keys))
	for _, p := range all {
		assert.Equal(t, p.Value, "v-"+p.Key)
	}

	code, _ := do(t, app, http.MethodGet, "/prefix/nope", "")
	assert.Equal(t, code, http.StatusBadRequest)
	code, _ = do(t, app, http.MethodGet, "/prefix/0?reverse=maybe", "")
	assert.Equal(t, code, http.StatusBadRequest)
}

func TestFacade_PrefixFromReverse(t *testing.T) {
	app, st := newTestApp(t)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		assert.Equal(t, st.Put([]byte(k), []byte("v-"+k)), nil)
	}
	prefix := strconv.FormatUint(uint64(st.PrefixOf([]byte("d"))), 10)

	var asc []Pair
	code, body := do(t, app, http.MethodGet, "/prefix/"+prefix+"?from=d", "")
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, json.Unmarshal(body, &asc), nil)
	assert.Equal(t, len(asc) > 0, true)
	assert.Equal(t, asc[0].Key, "d")
	for i := 1; i < len(asc); i++ {
		assert.Equal(t, asc[i-1].Key < asc[i].Key, true)
	}

	var desc []Pair
	code, body = do(t, app, http.MethodGet, "/prefix/"+prefix+"?from=d&reverse=true", "")
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, json.Unmarshal(body, &desc), nil)
	assert.Equal(t, len(desc) > 0, true)
	assert.Equal(t, desc[0].Key, "d")
	for i := 1; i < len(desc); i++ {
		assert.Equal(t, desc[i-1].Key > desc[i].Key, true)
	}
	assert.Equal(t, len(asc)+len(desc)-1 <= len(keys), true)
}
