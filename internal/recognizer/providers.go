package recognizer

import (
	"github.com/playwatch/playwatch/internal/audio"
	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/httpclient"
)

// FromSettings builds the enabled provider adapters. All adapters share hc
// so upstream connections are pooled; hc may be nil, giving each adapter a
// private client.
func FromSettings(settings *conf.Settings, hc *httpclient.Client) []Recognizer {
	format := audio.Format{
		SampleRate: settings.Audio.SampleRate,
		Channels:   settings.Audio.Channels,
	}

	var providers []Recognizer
	if settings.Recognizers.Shazam.Enabled {
		providers = append(providers, NewShazam(settings.Recognizers.Shazam, format, hc))
	}
	if settings.Recognizers.AcoustID.Enabled {
		providers = append(providers, NewAcoustID(settings.Recognizers.AcoustID, format, hc))
	}
	return providers
}
