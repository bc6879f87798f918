// model.go defines the persistent data model: streams, tracks,
// recognitions and plays.
package datastore

import "time"

// Stream is one configured RTSP feed. Streams are created from the
// configuration at startup and updated on reload; they are disabled rather
// than deleted so historical plays keep their reference.
type Stream struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	URL       string `gorm:"not null"`
	Enabled   bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Track is the canonical identity of a recognized piece of music, keyed by
// the provider and the provider's own track id. Metadata is refreshed on
// every positive recognition.
type Track struct {
	ID              uint   `gorm:"primaryKey"`
	Provider        string `gorm:"uniqueIndex:idx_tracks_provider_track;not null"`
	ProviderTrackID string `gorm:"uniqueIndex:idx_tracks_provider_track;not null"`
	Title           string `gorm:"index:idx_tracks_title"`
	Artist          string `gorm:"index:idx_tracks_artist"`
	Album           string
	ISRC            string
	ArtworkURL      string
	Metadata        string `gorm:"type:text"` // provider-specific blob, JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recognition is one attempt against one provider for one window,
// successful or not. Append-only; the retention job prunes old rows.
type Recognition struct {
	ID           uint   `gorm:"primaryKey"`
	StreamID     uint   `gorm:"index:idx_recognitions_stream_window;not null"`
	Provider     string `gorm:"index:idx_recognitions_provider"`
	WindowStart  time.Time `gorm:"index:idx_recognitions_stream_window"`
	WindowEnd    time.Time
	RecognizedAt time.Time `gorm:"index:idx_recognitions_recognized_at"`
	TrackID      *uint     `gorm:"index"`
	Confidence   *float64
	LatencyMs    int64
	RawResponse  string `gorm:"type:text"`
	ErrorMessage string

	Stream Stream `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE"`
	Track  *Track `gorm:"foreignKey:TrackID;constraint:OnDelete:SET NULL"`
}

// Play is a confirmed, de-duplicated record that a track was playing on a
// stream. DedupBucket is floor(recognized_at_unix / dedup_seconds); the
// composite unique index makes repeated confirmations of the same play a
// no-op.
type Play struct {
	ID           uint `gorm:"primaryKey"`
	StreamID     uint `gorm:"uniqueIndex:idx_plays_dedup;not null"`
	TrackID      uint `gorm:"uniqueIndex:idx_plays_dedup;not null"`
	RecognizedAt time.Time `gorm:"index:idx_plays_recognized_at"`
	Confidence   float64
	DedupBucket  int64 `gorm:"uniqueIndex:idx_plays_dedup;not null"`
	CreatedAt    time.Time

	Stream Stream `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE"`
	Track  Track  `gorm:"foreignKey:TrackID"`
}

// TrackAttrs carries the mutable metadata applied on track upsert.
type TrackAttrs struct {
	Title      string
	Artist     string
	Album      string
	ISRC       string
	ArtworkURL string
	Metadata   string
}

// PlayWithTrack joins a play with its track metadata for read queries.
type PlayWithTrack struct {
	Play
	Title  string
	Artist string
}
