package recognizer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/playwatch/playwatch/internal/audio"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/httpclient"
	"github.com/playwatch/playwatch/internal/logging"
)

// DefaultAcoustIDEndpoint is the public AcoustID lookup service.
const DefaultAcoustIDEndpoint = "https://api.acoustid.org/v2/lookup"

const defaultFpcalcPath = "fpcalc"

// preferredReleaseCountries orders release candidates when picking an album
// name; major-market releases tend to carry the canonical title.
var preferredReleaseCountries = []string{"US", "GB", "DE", "FR", "JP"}

// AcoustID recognizes audio by fingerprinting it locally with the Chromaprint
// fpcalc tool and looking the fingerprint up in the AcoustID database.
type AcoustID struct {
	clientKey  string
	fpcalcPath string
	endpoint   string
	format     audio.Format
	client     *httpclient.Client
	logger     *slog.Logger
}

// NewAcoustID creates the adapter from settings, sharing hc for connection
// pooling. A nil hc gets a private client with default pooling.
func NewAcoustID(settings conf.AcoustIDSettings, format audio.Format, hc *httpclient.Client) *AcoustID {
	fpcalcPath := settings.FpcalcPath
	if fpcalcPath == "" {
		fpcalcPath = defaultFpcalcPath
	}
	if hc == nil {
		hc = httpclient.New(nil)
	}
	return &AcoustID{
		clientKey:  settings.ClientKey,
		fpcalcPath: fpcalcPath,
		endpoint:   DefaultAcoustIDEndpoint,
		format:     format,
		client:     hc,
		logger:     logging.ForService("recognizer").With("provider", ProviderAcoustID),
	}
}

// Name implements Recognizer.
func (a *AcoustID) Name() string { return ProviderAcoustID }

// Recognize implements Recognizer.
func (a *AcoustID) Recognize(ctx context.Context, wav []byte) Outcome {
	start := time.Now()

	payload, err := audio.EnsureWAV(wav, a.format)
	if err != nil {
		return errorOutcome(ProviderAcoustID, ErrorInvalidAudio, err, time.Since(start))
	}

	fingerprint, seconds, err := a.fingerprint(ctx, payload)
	if err != nil {
		kind := ErrorInternal
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = ErrorTimeout
		}
		return errorOutcome(ProviderAcoustID, kind, err, time.Since(start))
	}

	form := url.Values{
		"client":      {a.clientKey},
		"fingerprint": {fingerprint},
		"duration":    {strconv.Itoa(seconds)},
		"meta":        {"recordings+releases+artists"},
		"format":      {"json"},
	}

	resp, err := a.client.Post(ctx, a.endpoint, "application/x-www-form-urlencoded", form.Encode())
	if err != nil {
		return errorOutcome(ProviderAcoustID, classifyCallError(err),
			errors.New(err).Component("recognizer").Category(errors.CategoryNetwork).Build(),
			time.Since(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errorOutcome(ProviderAcoustID, classifyCallError(err),
			errors.New(err).Component("recognizer").Category(errors.CategoryNetwork).Build(),
			time.Since(start))
	}
	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		a.logger.Warn("provider rate limited", "status", resp.StatusCode)
		return errorOutcome(ProviderAcoustID, ErrorRateLimited,
			errors.Newf("acoustid rate limited (HTTP %d)", resp.StatusCode).
				Component("recognizer").Category(errors.CategoryRateLimit).Build(),
			latency)
	case resp.StatusCode != http.StatusOK:
		return errorOutcome(ProviderAcoustID, ErrorProvider,
			errors.Newf("acoustid returned HTTP %d", resp.StatusCode).
				Component("recognizer").Category(errors.CategoryRecognition).Build(),
			latency)
	}

	return parseAcoustIDResponse(raw, latency)
}

type fpcalcOutput struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// fingerprint runs fpcalc over the WAV payload and returns the Chromaprint
// fingerprint plus the clip duration in whole seconds.
func (a *AcoustID) fingerprint(ctx context.Context, wav []byte) (string, int, error) {
	tmp, err := os.CreateTemp("", "playwatch-*.wav")
	if err != nil {
		return "", 0, errors.New(err).Component("recognizer").
			Category(errors.CategoryFileIO).Build()
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(wav); err != nil {
		tmp.Close()
		return "", 0, errors.New(err).Component("recognizer").
			Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return "", 0, errors.New(err).Component("recognizer").
			Category(errors.CategoryFileIO).Build()
	}

	cmd := exec.CommandContext(ctx, a.fpcalcPath, "-json", tmpPath)
	output, err := cmd.Output()
	if err != nil {
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", 0, errors.New(err).Component("recognizer").
			Category(errors.CategoryCommand).
			Context("tool", a.fpcalcPath).
			Context("stderr", detail).Build()
	}

	var parsed fpcalcOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", 0, errors.New(err).Component("recognizer").
			Category(errors.CategoryCommand).
			Context("tool", a.fpcalcPath).Build()
	}
	if parsed.Fingerprint == "" {
		return "", 0, errors.Newf("fpcalc produced no fingerprint").
			Component("recognizer").Category(errors.CategoryCommand).Build()
	}
	return parsed.Fingerprint, int(math.Round(parsed.Duration)), nil
}

type acoustIDResponse struct {
	Status  string           `json:"status"`
	Error   *acoustIDError   `json:"error"`
	Results []acoustIDResult `json:"results"`
}

type acoustIDError struct {
	Message string `json:"message"`
}

type acoustIDResult struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Recordings []acoustIDRecording `json:"recordings"`
}

type acoustIDRecording struct {
	Title    string            `json:"title"`
	Artists  []acoustIDArtist  `json:"artists"`
	Releases []acoustIDRelease `json:"releases"`
}

type acoustIDArtist struct {
	Name string `json:"name"`
}

type acoustIDRelease struct {
	Title   string        `json:"title"`
	Country string        `json:"country"`
	Date    *acoustIDDate `json:"date"`
}

type acoustIDDate struct {
	Year int `json:"year"`
}

func parseAcoustIDResponse(raw []byte, latency time.Duration) Outcome {
	var parsed acoustIDResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errorOutcome(ProviderAcoustID, ErrorProvider,
			errors.New(err).Component("recognizer").Category(errors.CategoryRecognition).
				Context("reason", "malformed response").Build(),
			latency)
	}

	if parsed.Error != nil {
		return errorOutcome(ProviderAcoustID, ErrorProvider,
			errors.Newf("acoustid error: %s", parsed.Error.Message).
				Component("recognizer").Category(errors.CategoryRecognition).Build(),
			latency)
	}
	if parsed.Status != "ok" {
		return errorOutcome(ProviderAcoustID, ErrorProvider,
			errors.Newf("acoustid status %q", parsed.Status).
				Component("recognizer").Category(errors.CategoryRecognition).Build(),
			latency)
	}
	if len(parsed.Results) == 0 {
		return noMatchOutcome(ProviderAcoustID, latency, raw)
	}

	best := parsed.Results[0]
	for _, result := range parsed.Results[1:] {
		if result.Score > best.Score {
			best = result
		}
	}

	match := Match{
		Provider:        ProviderAcoustID,
		ProviderTrackID: best.ID,
		Confidence:      math.Max(0, math.Min(1, best.Score)),
	}
	// A fingerprint can land in the database before anyone attaches
	// metadata; the track identity alone is still a usable match.
	if len(best.Recordings) > 0 {
		recording := best.Recordings[0]
		match.Title = recording.Title
		match.Artist = joinArtistNames(recording.Artists)
		if release := chooseRelease(recording.Releases); release != nil {
			match.Album = release.Title
		}
	}

	return matchOutcome(match, latency, raw)
}

func joinArtistNames(artists []acoustIDArtist) string {
	names := make([]string, 0, len(artists))
	for _, artist := range artists {
		if artist.Name != "" {
			names = append(names, artist.Name)
		}
	}
	return strings.Join(names, ", ")
}

// chooseRelease picks the release whose title becomes the album name:
// releases with a date beat undated ones, then preferred market countries
// in order, then whatever comes first.
func chooseRelease(releases []acoustIDRelease) *acoustIDRelease {
	if len(releases) == 0 {
		return nil
	}

	candidates := releases
	dated := make([]acoustIDRelease, 0, len(releases))
	for _, release := range releases {
		if release.Date != nil {
			dated = append(dated, release)
		}
	}
	if len(dated) > 0 {
		candidates = dated
	}

	for _, country := range preferredReleaseCountries {
		for i := range candidates {
			if candidates[i].Country == country {
				return &candidates[i]
			}
		}
	}
	return &candidates[0]
}
