package recognizer

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/httpclient"
)

const fakeFpcalcOK = `#!/bin/sh
printf '{"duration": 12.05, "fingerprint": "AQADtEmiJFKYhGLI4R_6Dw"}'
`

const fakeFpcalcBroken = `#!/bin/sh
echo "ERROR: unable to decode audio" >&2
exit 1
`

const acoustidMatchBody = `{
  "status": "ok",
  "results": [
    {"id": "1f9b6c2e-0000-4000-8000-000000000001", "score": 0.41},
    {
      "id": "9ff43b6a-4f16-427c-93c2-92307ca505e0",
      "score": 0.876,
      "recordings": [
        {
          "title": "The Middle",
          "artists": [
            {"name": "Zedd"},
            {"name": "Maren Morris"}
          ],
          "releases": [
            {"title": "The Middle (JP Single)", "country": "JP"},
            {"title": "The Middle", "country": "US", "date": {"year": 2018, "month": 1, "day": 23}},
            {"title": "The Middle (DE)", "country": "DE", "date": {"year": 2018}}
          ]
        }
      ]
    }
  ]
}`

// writeFakeFpcalc drops a shell script standing in for the Chromaprint tool.
func writeFakeFpcalc(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake fpcalc script needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fpcalc")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newAcoustIDForTest(t *testing.T, script string) (*AcoustID, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(hc.Close)

	a := NewAcoustID(conf.AcoustIDSettings{
		Enabled:    true,
		ClientKey:  "abc123",
		FpcalcPath: writeFakeFpcalc(t, script),
	}, testFormat(), hc)
	return a, transport
}

func TestAcoustIDRecognizeMatch(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)

	var gotForm url.Values
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			form, err := url.ParseQuery(string(body))
			require.NoError(t, err, "request body should be form encoded")
			gotForm = form
			return httpmock.NewStringResponse(http.StatusOK, acoustidMatchBody), nil
		})

	out := a.Recognize(t.Context(), testWindowWAV(t))

	require.Equal(t, StatusMatch, out.Status, "expected a match: %v", out.Err)
	require.NotNil(t, out.Match)
	assert.Equal(t, ProviderAcoustID, out.Provider)
	assert.Equal(t, "9ff43b6a-4f16-427c-93c2-92307ca505e0", out.Match.ProviderTrackID,
		"highest scoring result should win")
	assert.Equal(t, "The Middle", out.Match.Title)
	assert.Equal(t, "Zedd, Maren Morris", out.Match.Artist)
	assert.Equal(t, "The Middle", out.Match.Album,
		"dated US release should be preferred for the album name")
	assert.InDelta(t, 0.876, out.Match.Confidence, 1e-9)

	assert.Equal(t, "abc123", gotForm.Get("client"))
	assert.Equal(t, "AQADtEmiJFKYhGLI4R_6Dw", gotForm.Get("fingerprint"))
	assert.Equal(t, "12", gotForm.Get("duration"))
	assert.Equal(t, "recordings+releases+artists", gotForm.Get("meta"))
	assert.Equal(t, "json", gotForm.Get("format"))
}

func TestAcoustIDRecognizeNoMatch(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"status": "ok", "results": []}`))

	out := a.Recognize(t.Context(), testWindowWAV(t))

	assert.Equal(t, StatusNoMatch, out.Status)
	assert.NotEmpty(t, out.Raw)
}

func TestAcoustIDRecognizeErrorStatus(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK,
			`{"status": "error", "error": {"message": "invalid API key"}}`))

	out := a.Recognize(t.Context(), testWindowWAV(t))

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ErrorProvider, out.ErrorKind)
	assert.ErrorContains(t, out.Err, "invalid API key")
}

func TestAcoustIDRecognizeRateLimited(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"status": "error"}`))

	out := a.Recognize(t.Context(), testWindowWAV(t))

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ErrorRateLimited, out.ErrorKind)
}

func TestAcoustIDRecognizeFpcalcFailure(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcBroken)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK, acoustidMatchBody))

	out := a.Recognize(t.Context(), testWindowWAV(t))

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ErrorInternal, out.ErrorKind)
	assert.Equal(t, 0, transport.GetTotalCallCount(), "no lookup without a fingerprint")
}

func TestAcoustIDRecognizeInvalidAudio(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK, acoustidMatchBody))

	out := a.Recognize(t.Context(), []byte("not audio"))

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ErrorInvalidAudio, out.ErrorKind)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

// A fingerprint can be known to the database before any metadata is
// attached; the bare track identity still counts as a match.
func TestAcoustIDRecognizeMatchWithoutRecordings(t *testing.T) {
	a, transport := newAcoustIDForTest(t, fakeFpcalcOK)
	transport.RegisterResponder(http.MethodPost, DefaultAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK,
			`{"status": "ok", "results": [{"id": "bare-id", "score": 0.52}]}`))

	out := a.Recognize(t.Context(), testWindowWAV(t))

	require.Equal(t, StatusMatch, out.Status)
	assert.Equal(t, "bare-id", out.Match.ProviderTrackID)
	assert.Empty(t, out.Match.Title)
	assert.InDelta(t, 0.52, out.Match.Confidence, 1e-9)
}

func TestChooseRelease(t *testing.T) {
	dated := func(title, country string) acoustIDRelease {
		return acoustIDRelease{Title: title, Country: country, Date: &acoustIDDate{Year: 2020}}
	}

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, chooseRelease(nil))
	})

	t.Run("dated beats undated", func(t *testing.T) {
		got := chooseRelease([]acoustIDRelease{
			{Title: "undated", Country: "US"},
			dated("dated", "XW"),
		})
		require.NotNil(t, got)
		assert.Equal(t, "dated", got.Title)
	})

	t.Run("country preference order", func(t *testing.T) {
		got := chooseRelease([]acoustIDRelease{
			dated("british", "GB"),
			dated("american", "US"),
		})
		require.NotNil(t, got)
		assert.Equal(t, "american", got.Title)
	})

	t.Run("falls back to first candidate", func(t *testing.T) {
		got := chooseRelease([]acoustIDRelease{
			dated("finnish", "FI"),
			dated("swedish", "SE"),
		})
		require.NotNil(t, got)
		assert.Equal(t, "finnish", got.Title)
	})
}

func TestJoinArtistNames(t *testing.T) {
	assert.Empty(t, joinArtistNames(nil))
	assert.Equal(t, "Solo", joinArtistNames([]acoustIDArtist{{Name: "Solo"}}))
	assert.Equal(t, "A, B", joinArtistNames([]acoustIDArtist{{Name: "A"}, {Name: ""}, {Name: "B"}}))
}
