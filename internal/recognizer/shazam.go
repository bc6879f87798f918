package recognizer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/playwatch/playwatch/internal/audio"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/httpclient"
	"github.com/playwatch/playwatch/internal/logging"
)

// DefaultShazamEndpoint is the RapidAPI detection endpoint used when the
// configuration leaves the endpoint empty.
const DefaultShazamEndpoint = "https://shazam.p.rapidapi.com/songs/v2/detect"

// maxResponseBytes caps how much of a provider response is read. Responses
// are small JSON documents; anything past this is a misbehaving server.
const maxResponseBytes = 4 << 20

// Shazam recognizes audio through the Shazam song detection API. The window
// is submitted as a base64-encoded WAV body.
type Shazam struct {
	endpoint string
	apiKey   string
	format   audio.Format
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewShazam creates the adapter from settings, sharing hc for connection
// pooling. A nil hc gets a private client with default pooling.
func NewShazam(settings conf.ShazamSettings, format audio.Format, hc *httpclient.Client) *Shazam {
	endpoint := settings.Endpoint
	if endpoint == "" {
		endpoint = DefaultShazamEndpoint
	}
	if hc == nil {
		hc = httpclient.New(nil)
	}
	return &Shazam{
		endpoint: endpoint,
		apiKey:   settings.APIKey,
		format:   format,
		client:   hc,
		logger:   logging.ForService("recognizer").With("provider", ProviderShazam),
	}
}

// Name implements Recognizer.
func (s *Shazam) Name() string { return ProviderShazam }

// Recognize implements Recognizer.
func (s *Shazam) Recognize(ctx context.Context, wav []byte) Outcome {
	start := time.Now()

	payload, err := audio.EnsureWAV(wav, s.format)
	if err != nil {
		return errorOutcome(ProviderShazam, ErrorInvalidAudio, err, time.Since(start))
	}

	body := base64.StdEncoding.EncodeToString(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return errorOutcome(ProviderShazam, ErrorInternal,
			errors.New(err).Component("recognizer").Category(errors.CategoryRecognition).Build(),
			time.Since(start))
	}
	req.Header.Set("Content-Type", "text/plain")
	if s.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", s.apiKey)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return errorOutcome(ProviderShazam, classifyCallError(err),
			errors.New(err).Component("recognizer").Category(errors.CategoryNetwork).Build(),
			time.Since(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errorOutcome(ProviderShazam, classifyCallError(err),
			errors.New(err).Component("recognizer").Category(errors.CategoryNetwork).Build(),
			time.Since(start))
	}
	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		s.logger.Warn("provider rate limited", "status", resp.StatusCode)
		return errorOutcome(ProviderShazam, ErrorRateLimited,
			errors.Newf("shazam rate limited (HTTP %d)", resp.StatusCode).
				Component("recognizer").Category(errors.CategoryRateLimit).Build(),
			latency)
	case resp.StatusCode != http.StatusOK:
		return errorOutcome(ProviderShazam, ErrorProvider,
			errors.Newf("shazam returned HTTP %d", resp.StatusCode).
				Component("recognizer").Category(errors.CategoryRecognition).Build(),
			latency)
	}

	return parseShazamResponse(raw, latency)
}

type shazamResponse struct {
	Matches []shazamMatch `json:"matches"`
	Track   *shazamTrack  `json:"track"`
	Error   *shazamError  `json:"error"`
}

type shazamError struct {
	Message string `json:"message"`
}

type shazamMatch struct {
	TimeSkew      float64 `json:"timeskew"`
	FrequencySkew float64 `json:"frequencyskew"`
}

type shazamTrack struct {
	Key      string          `json:"key"`
	Title    string          `json:"title"`
	Subtitle string          `json:"subtitle"`
	ISRC     string          `json:"isrc"`
	Images   shazamImages    `json:"images"`
	Sections []shazamSection `json:"sections"`
}

type shazamImages struct {
	CoverArt   string `json:"coverart"`
	Background string `json:"background"`
}

type shazamSection struct {
	Type     string           `json:"type"`
	Metadata []shazamMetadata `json:"metadata"`
}

type shazamMetadata struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func parseShazamResponse(raw []byte, latency time.Duration) Outcome {
	var parsed shazamResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errorOutcome(ProviderShazam, ErrorProvider,
			errors.New(err).Component("recognizer").Category(errors.CategoryRecognition).
				Context("reason", "malformed response").Build(),
			latency)
	}

	if parsed.Error != nil {
		return errorOutcome(ProviderShazam, ErrorProvider,
			errors.Newf("shazam error: %s", parsed.Error.Message).
				Component("recognizer").Category(errors.CategoryRecognition).Build(),
			latency)
	}

	// A silent or unknown window comes back as an empty matches list.
	if len(parsed.Matches) == 0 || parsed.Track == nil {
		return noMatchOutcome(ProviderShazam, latency, raw)
	}

	track := parsed.Track
	return matchOutcome(Match{
		Provider:        ProviderShazam,
		ProviderTrackID: track.Key,
		Title:           track.Title,
		Artist:          track.Subtitle,
		Album:           shazamAlbum(track.Sections),
		ISRC:            track.ISRC,
		ArtworkURL:      shazamArtwork(track.Images),
		Confidence:      shazamConfidence(parsed.Matches[0]),
	}, latency, raw)
}

// shazamAlbum digs the album name out of the SONG metadata section.
func shazamAlbum(sections []shazamSection) string {
	for _, section := range sections {
		if section.Type != "SONG" {
			continue
		}
		for _, meta := range section.Metadata {
			if meta.Title == "Album" {
				return meta.Text
			}
		}
	}
	return ""
}

func shazamArtwork(images shazamImages) string {
	if images.CoverArt != "" {
		return images.CoverArt
	}
	return images.Background
}

// shazamConfidence estimates match confidence. The API reports no score of
// its own, so it is derived from the fingerprint alignment skews: the larger
// the time or frequency skew, the less trustworthy the match.
func shazamConfidence(m shazamMatch) float64 {
	confidence := 1.0

	switch timeSkew := math.Abs(m.TimeSkew); {
	case timeSkew > 0.001:
		confidence *= 0.6
	case timeSkew > 0.0001:
		confidence *= 0.8
	}

	switch freqSkew := math.Abs(m.FrequencySkew); {
	case freqSkew > 0.0001:
		confidence *= 0.7
	case freqSkew > 0.00001:
		confidence *= 0.9
	}

	return math.Max(0, math.Min(1, confidence))
}
