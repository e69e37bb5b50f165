package httpapi_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/objectrepo"
	"github.com/nitishm/bindle/invoicestore/storetest"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/service"
	"github.com/nitishm/bindle/storage/memory"
	"github.com/nitishm/bindle/transport"
	"github.com/nitishm/bindle/transport/httpapi"
)

func newServer(t *testing.T, log *logger.Logger) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	objects := memory.New()
	ps, err := parcel.New(objects, parcel.Options{ChunkSize: 8})
	require.NoError(t, err)
	t.Cleanup(ps.Close)
	svc := service.New(invoicestore.New(objectrepo.New(objects), nil), ps, service.Options{})
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(svc, log)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func sha(s string) string { return digest.Sum([]byte(s)).String() }

func TestHTTP_Lifecycle(t *testing.T) {
	srv := newServer(t, nil)
	inv := storetest.Invoice("example.com/http/1.0.0", "hello parcel", "second")
	doc, err := invoice.Marshal(inv)
	require.NoError(t, err)

	code, body := do(t, http.MethodPost, srv.URL+"/v1/_i", doc)
	require.Equal(t, http.StatusCreated, code, string(body))
	var created transport.CreateResponse
	require.NoError(t, transport.DecodeTOML(bytes.NewReader(body), &created))
	require.True(t, created.Created)
	require.Len(t, created.Missing, 2)

	code, _ = do(t, http.MethodPost, srv.URL+"/v1/_i", doc)
	require.Equal(t, http.StatusOK, code)

	ref := srv.URL + "/v1/_p/example.com/http/1.0.0@" + sha("hello parcel")
	code, body = do(t, http.MethodPost, ref, []byte("hello parcel"))
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = do(t, http.MethodGet, ref, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "hello parcel", string(body))

	code, body = do(t, http.MethodGet, srv.URL+"/v1/_r/missing/example.com/http/1.0.0", nil)
	require.Equal(t, http.StatusOK, code)
	var missing transport.MissingResponse
	require.NoError(t, transport.DecodeTOML(bytes.NewReader(body), &missing))
	require.Len(t, missing.Missing, 1)
	require.Equal(t, sha("second"), missing.Missing[0].SHA256)

	code, body = do(t, http.MethodGet, srv.URL+"/v1/_i/example.com/http/1.0.0", nil)
	require.Equal(t, http.StatusOK, code)
	got, err := invoice.Unmarshal(body)
	require.NoError(t, err)
	require.Equal(t, inv, got)

	code, _ = do(t, http.MethodDelete, srv.URL+"/v1/_i/example.com/http/1.0.0", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/v1/_i/example.com/http/1.0.0", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, ref, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	srv := newServer(t, nil)
	inv := storetest.Invoice("example.com/errors/1.0.0", "declared")
	doc, err := invoice.Marshal(inv)
	require.NoError(t, err)
	code, _ := do(t, http.MethodPost, srv.URL+"/v1/_i", doc)
	require.Equal(t, http.StatusCreated, code)

	other, err := invoice.Marshal(storetest.Invoice("example.com/errors/1.0.0", "changed"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		body     []byte
		wantCode int
		wantKind errs.Kind
	}{
		{"conflict", http.MethodPost, "/v1/_i", other, http.StatusConflict, errs.KindConflict},
		{"malformed invoice", http.MethodPost, "/v1/_i", []byte("not = [toml"), http.StatusBadRequest, errs.KindValidation},
		{"bad digest", http.MethodPost, "/v1/_p/example.com/errors/1.0.0@" + sha("declared"), []byte("forged"), http.StatusBadRequest, errs.KindDigestMismatch},
		{"unlisted parcel", http.MethodPost, "/v1/_p/example.com/errors/1.0.0@" + sha("x"), []byte("x"), http.StatusBadRequest, errs.KindValidation},
		{"parcel not stored", http.MethodGet, "/v1/_p/example.com/errors/1.0.0@" + sha("declared"), nil, http.StatusNotFound, errs.KindNotFound},
		{"unknown invoice", http.MethodGet, "/v1/_i/nobody/1.0.0", nil, http.StatusNotFound, errs.KindInvoiceNotFound},
		{"bad id", http.MethodGet, "/v1/_i/no-version", nil, http.StatusBadRequest, errs.KindValidation},
		{"bad ref", http.MethodGet, "/v1/_p/example.com/errors/1.0.0", nil, http.StatusBadRequest, errs.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			require.Equal(t, tt.wantCode, code, string(body))
			var resp httpapi.ErrorResponse
			require.NoError(t, transport.DecodeTOML(bytes.NewReader(body), &resp))
			require.Equal(t, tt.wantKind, resp.Kind)
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestHTTP_RequestLogging(t *testing.T) {
	log, logs := logger.NewObserved(zapcore.WarnLevel)
	srv := newServer(t, log)

	code, _ := do(t, http.MethodGet, srv.URL+"/v1/_i/nobody/1.0.0", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, code)

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, int64(http.StatusNotFound), entries[0].ContextMap()["status"])
	require.True(t, strings.HasPrefix(entries[0].ContextMap()["path"].(string), "/v1/_i/"))
}
