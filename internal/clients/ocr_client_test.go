package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overlayResponse = `{
  "ParsedResults": [{
    "TextOverlay": {
      "Lines": [
        {"LineText": "안녕 하세요", "Words": [
          {"WordText": "안녕", "Left": 10, "Top": 20, "Height": 30, "Width": 50},
          {"WordText": "하세요", "Left": 70.0, "Top": 21, "Height": 29, "Width": 80}
        ], "MaxHeight": 30, "MinTop": 20}
      ],
      "HasOverlay": true
    },
    "FileParseExitCode": 1,
    "ParsedText": "안녕 하세요\r\n",
    "ErrorMessage": ""
  }],
  "OCRExitCode": 1,
  "IsErroredOnProcessing": false,
  "ProcessingTimeInMilliseconds": "312"
}`

func TestOCRClientSendsFormAndParsesOverlay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "secret", r.FormValue("apikey"))
		assert.Equal(t, "kor", r.FormValue("language"))
		assert.Equal(t, "2", r.FormValue("OCREngine"))
		assert.Equal(t, "true", r.FormValue("scale"))
		assert.Equal(t, "true", r.FormValue("isOverlayRequired"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "page.png", header.Filename)
		assert.Equal(t, []byte("\x89PNG\r\n\x1a\nrest"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(overlayResponse))
	}))
	defer server.Close()

	client := NewOCRClient(server.URL, 5*time.Second)
	resp, err := client.Parse(context.Background(), &OCRRequest{
		Image:     []byte("\x89PNG\r\n\x1a\nrest"),
		APIKey:    "secret",
		Language:  "kor",
		OCREngine: 2,
		Scale:     true,
	})
	require.NoError(t, err)
	require.Len(t, resp.ParsedResults, 1)

	lines := resp.ParsedResults[0].TextOverlay.Lines
	require.Len(t, lines, 1)
	assert.Equal(t, "안녕 하세요", lines[0].LineText)
	assert.Equal(t, 70.0, lines[0].Words[1].Left)
}

func TestOCRClientFailures(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"non-2xx": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("overloaded"))
		},
		"malformed json": func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ParsedResults": [`))
		},
		"errored on processing": func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"IsErroredOnProcessing": true, "ErrorMessage": ["E101: Timed out", "try later"]}`))
		},
		"result level error": func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ParsedResults": [{"TextOverlay": null, "ErrorMessage": "file corrupt"}]}`))
		},
	}

	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respond(w)
			}))
			defer server.Close()

			resp, err := NewOCRClient(server.URL, time.Second).Parse(context.Background(), &OCRRequest{Image: []byte("x")})
			assert.Error(t, err)
			assert.Nil(t, resp)
		})
	}
}

func TestOCRClientHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOCRClient(server.URL, 10*time.Second).Parse(ctx, &OCRRequest{Image: []byte("x")})
	assert.Error(t, err)
}

func TestFlattenMessage(t *testing.T) {
	assert.Equal(t, "", flattenMessage(nil))
	assert.Equal(t, "", flattenMessage([]byte("null")))
	assert.Equal(t, "one", flattenMessage([]byte(`"one"`)))
	assert.Equal(t, "a; b", flattenMessage([]byte(`["a","b"]`)))
}
