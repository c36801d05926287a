package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func echoBody(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, string(data))
}

func TestGzipRequestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"name":"Inbox"}`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.POST("/", echoBody)

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "identity, gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"name":"Inbox"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestGzipRequestMiddlewarePassthrough(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.POST("/", echoBody)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Body.String() != "plain" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestGzipRequestMiddlewareInvalid(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.POST("/", echoBody)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
