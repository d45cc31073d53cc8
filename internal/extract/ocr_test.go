package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s4jith/ncert-working/internal/config"
)

func writeTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page-001.png")
	require.NoError(t, os.WriteFile(path, []byte("fake-png-bytes"), 0o644))
	return path
}

func TestTesseractEngineRecognizeImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tesseract", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))

		var opts tesseractOptions
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("options")), &opts))
		require.Equal(t, []string{"eng", "hin"}, opts.Languages)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "page-001.png", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"stdout":"  प्रकाश संश्लेषण Photosynthesis  ","exit_code":0}}`))
	}))
	defer server.Close()

	engine := NewTesseractEngine(config.OCRConfig{Endpoint: server.URL})
	require.NotNil(t, engine)

	text, err := engine.RecognizeImage(context.Background(), writeTempImage(t))
	require.NoError(t, err)
	require.Equal(t, "प्रकाश संश्लेषण Photosynthesis", text)
}

func TestTesseractEngineNonZeroExit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"stdout":"","stderr":"Error opening data file","exit_code":1}}`))
	}))
	defer server.Close()

	engine := NewTesseractEngine(config.OCRConfig{Endpoint: server.URL})
	_, err := engine.RecognizeImage(context.Background(), writeTempImage(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Error opening data file")
}

func TestTesseractEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	engine := NewTesseractEngine(config.OCRConfig{Endpoint: server.URL})
	_, err := engine.RecognizeImage(context.Background(), writeTempImage(t))
	require.Error(t, err)
}

func TestNewTesseractEngineDisabled(t *testing.T) {
	require.Nil(t, NewTesseractEngine(config.OCRConfig{}))
}

func TestTesseractEngineCustomLanguages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		var opts tesseractOptions
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("options")), &opts))
		require.Equal(t, []string{"eng", "hin", "urd"}, opts.Languages)
		_, _ = w.Write([]byte(`{"data":{"stdout":"ok","exit_code":0}}`))
	}))
	defer server.Close()

	engine := NewTesseractEngine(config.OCRConfig{Endpoint: server.URL, Languages: "eng+hin+urd"})
	text, err := engine.RecognizeImage(context.Background(), writeTempImage(t))
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}
