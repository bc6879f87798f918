// interfaces.go defines the store interface and the GORM-backed
// implementation shared by the SQLite and MySQL backends.
package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/logging"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation and defines
// the operations the monitor relies on.
type Interface interface {
	Open() error
	Close() error

	// EnsureStream upserts a stream by name and returns its id.
	EnsureStream(name, url string, enabled bool) (uint, error)
	// SetStreamEnabled flips the enabled flag; unknown names are a no-op.
	SetStreamEnabled(name string, enabled bool) error

	// UpsertTrack inserts or refreshes a track identified by
	// (provider, providerTrackID) and returns its id.
	UpsertTrack(provider, providerTrackID string, attrs TrackAttrs) (uint, error)

	// InsertRecognition appends one recognition attempt.
	InsertRecognition(rec *Recognition) error

	// InsertPlay records a confirmed play. Inserting into an occupied
	// dedup bucket is a silent no-op reported through inserted=false.
	InsertPlay(streamID, trackID uint, recognizedAt time.Time, confidence float64) (playID uint, inserted bool, err error)

	// CountPlaysSince reports plays recorded at or after t.
	CountPlaysSince(t time.Time) (int64, error)
	// CountRecognitionsSince reports recognition attempts at or after t.
	CountRecognitionsSince(t time.Time) (int64, error)
	// RecentPlays returns the newest plays joined with track metadata.
	RecentPlays(limit int) ([]PlayWithTrack, error)

	// DeleteRecognitionsBefore prunes recognitions with recognized_at
	// older than cutoff, at most batch rows per statement.
	DeleteRecognitionsBefore(cutoff time.Time, batch int) (int64, error)
	// DeletePlaysBefore prunes old plays the same way.
	DeletePlaysBefore(cutoff time.Time, batch int) (int64, error)
}

// write retry policy for transient database errors.
const (
	writeAttempts     = 3
	writeRetryBackoff = 250 * time.Millisecond
)

// DataStore implements the backend-independent part of Interface on a GORM
// database handle.
type DataStore struct {
	DB *gorm.DB

	dedupSeconds int64
	metrics      *metrics.DatastoreMetrics
	logger       *slog.Logger
}

// New creates a store for the configured backend. The metrics receiver may
// be nil.
func New(settings *conf.Settings, m *metrics.DatastoreMetrics) (Interface, error) {
	base := DataStore{
		dedupSeconds: int64(settings.Decision.DedupSeconds),
		metrics:      m,
		logger:       logging.ForService("datastore"),
	}
	switch settings.Output.Database.Type {
	case "sqlite", "":
		return &SQLiteStore{DataStore: base, Settings: settings}, nil
	case "mysql":
		return &MySQLStore{DataStore: base, Settings: settings}, nil
	default:
		return nil, errors.Newf("unsupported database type: %s", settings.Output.Database.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// EnsureStream upserts a stream row by its unique name.
func (ds *DataStore) EnsureStream(name, url string, enabled bool) (uint, error) {
	stream := Stream{Name: name, URL: url, Enabled: enabled}
	err := ds.withWriteRetry("ensure_stream", func() error {
		return ds.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "enabled", "updated_at"}),
		}).Create(&stream).Error
	})
	if err != nil {
		return 0, fmt.Errorf("ensuring stream %q: %w", name, err)
	}
	if stream.ID == 0 {
		// The conflict path does not report the existing id on all
		// backends; fetch it.
		if err := ds.DB.Where("name = ?", name).First(&stream).Error; err != nil {
			return 0, fmt.Errorf("looking up stream %q after upsert: %w", name, err)
		}
	}
	return stream.ID, nil
}

// SetStreamEnabled updates the enabled flag of an existing stream.
func (ds *DataStore) SetStreamEnabled(name string, enabled bool) error {
	return ds.withWriteRetry("set_stream_enabled", func() error {
		return ds.DB.Model(&Stream{}).Where("name = ?", name).
			Update("enabled", enabled).Error
	})
}

// UpsertTrack inserts a track or refreshes its metadata on conflict.
func (ds *DataStore) UpsertTrack(provider, providerTrackID string, attrs TrackAttrs) (uint, error) {
	track := Track{
		Provider:        provider,
		ProviderTrackID: providerTrackID,
		Title:           attrs.Title,
		Artist:          attrs.Artist,
		Album:           attrs.Album,
		ISRC:            attrs.ISRC,
		ArtworkURL:      attrs.ArtworkURL,
		Metadata:        attrs.Metadata,
	}
	err := ds.withWriteRetry("upsert_track", func() error {
		return ds.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "artist", "album", "isrc", "artwork_url", "metadata", "updated_at",
			}),
		}).Create(&track).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upserting track %s/%s: %w", provider, providerTrackID, err)
	}
	if track.ID == 0 {
		if err := ds.DB.Where("provider = ? AND provider_track_id = ?",
			provider, providerTrackID).First(&track).Error; err != nil {
			return 0, fmt.Errorf("looking up track %s/%s after upsert: %w", provider, providerTrackID, err)
		}
	}
	return track.ID, nil
}

// InsertRecognition appends one recognition row.
func (ds *DataStore) InsertRecognition(rec *Recognition) error {
	err := ds.withWriteRetry("insert_recognition", func() error {
		return ds.DB.Omit("Stream", "Track").Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("inserting recognition: %w", err)
	}
	return nil
}

// InsertPlay records a confirmed play idempotently. The dedup bucket is
// floor(recognized_at_unix / dedup_seconds); a conflict on
// (stream, track, bucket) means the play is already recorded and the call
// reports inserted=false without error.
func (ds *DataStore) InsertPlay(streamID, trackID uint, recognizedAt time.Time, confidence float64) (uint, bool, error) {
	play := Play{
		StreamID:     streamID,
		TrackID:      trackID,
		RecognizedAt: recognizedAt.UTC(),
		Confidence:   confidence,
		DedupBucket:  recognizedAt.UTC().Unix() / ds.dedupSeconds,
	}
	var inserted bool
	err := ds.withWriteRetry("insert_play", func() error {
		result := ds.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "stream_id"}, {Name: "track_id"}, {Name: "dedup_bucket"},
			},
			DoNothing: true,
		}).Omit("Stream", "Track").Create(&play)
		inserted = result.RowsAffected > 0
		return result.Error
	})
	if err != nil {
		return 0, false, fmt.Errorf("inserting play: %w", err)
	}
	if !inserted {
		ds.logger.Debug("play already recorded in dedup bucket",
			"stream_id", streamID, "track_id", trackID, "bucket", play.DedupBucket)
		return 0, false, nil
	}
	return play.ID, true, nil
}

// CountPlaysSince reports the number of plays recognized at or after t.
func (ds *DataStore) CountPlaysSince(t time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Play{}).Where("recognized_at >= ?", t.UTC()).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting plays: %w", err)
	}
	return count, nil
}

// CountRecognitionsSince reports recognition attempts at or after t.
func (ds *DataStore) CountRecognitionsSince(t time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Recognition{}).Where("recognized_at >= ?", t.UTC()).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting recognitions: %w", err)
	}
	return count, nil
}

// RecentPlays returns up to limit plays, newest first, with track metadata.
func (ds *DataStore) RecentPlays(limit int) ([]PlayWithTrack, error) {
	var plays []PlayWithTrack
	err := ds.DB.Model(&Play{}).
		Select("plays.*, tracks.title AS title, tracks.artist AS artist").
		Joins("JOIN tracks ON tracks.id = plays.track_id").
		Order("plays.recognized_at DESC").
		Limit(limit).
		Scan(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("listing recent plays: %w", err)
	}
	return plays, nil
}

// DeleteRecognitionsBefore prunes recognitions older than cutoff in batches
// so long-running deletes never starve the stream workers.
func (ds *DataStore) DeleteRecognitionsBefore(cutoff time.Time, batch int) (int64, error) {
	return ds.batchDelete("recognitions", cutoff, batch, func(ids []uint) *gorm.DB {
		return ds.DB.Delete(&Recognition{}, ids)
	}, func(limit int) ([]uint, error) {
		var ids []uint
		err := ds.DB.Model(&Recognition{}).
			Where("recognized_at < ?", cutoff.UTC()).
			Limit(limit).Pluck("id", &ids).Error
		return ids, err
	})
}

// DeletePlaysBefore prunes plays older than cutoff in batches.
func (ds *DataStore) DeletePlaysBefore(cutoff time.Time, batch int) (int64, error) {
	return ds.batchDelete("plays", cutoff, batch, func(ids []uint) *gorm.DB {
		return ds.DB.Delete(&Play{}, ids)
	}, func(limit int) ([]uint, error) {
		var ids []uint
		err := ds.DB.Model(&Play{}).
			Where("recognized_at < ?", cutoff.UTC()).
			Limit(limit).Pluck("id", &ids).Error
		return ids, err
	})
}

func (ds *DataStore) batchDelete(table string, cutoff time.Time, batch int,
	del func([]uint) *gorm.DB, pick func(int) ([]uint, error)) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	var total int64
	for {
		ids, err := pick(batch)
		if err != nil {
			return total, fmt.Errorf("selecting %s for retention: %w", table, err)
		}
		if len(ids) == 0 {
			break
		}
		result := del(ids)
		if result.Error != nil {
			return total, fmt.Errorf("deleting %s for retention: %w", table, result.Error)
		}
		total += result.RowsAffected
		if ds.metrics != nil {
			ds.metrics.AddRetentionDeletes(table, result.RowsAffected)
		}
		if len(ids) < batch {
			break
		}
	}
	ds.logger.Debug("retention delete finished",
		"table", table, "cutoff", cutoff.UTC(), "rows", total)
	return total, nil
}

// withWriteRetry runs a write with bounded exponential backoff. Only the
// final error is returned; intermediate failures are counted and logged.
func (ds *DataStore) withWriteRetry(operation string, fn func() error) error {
	start := time.Now()
	defer func() {
		if ds.metrics != nil {
			ds.metrics.ObserveOperationDuration(operation, time.Since(start).Seconds())
		}
	}()

	var err error
	delay := writeRetryBackoff
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == writeAttempts {
			break
		}
		ds.logger.Warn("database write failed, retrying",
			"operation", operation, "attempt", attempt, "error", err)
		if ds.metrics != nil {
			ds.metrics.IncrementWriteRetries(operation)
		}
		time.Sleep(delay)
		delay *= 2
	}
	if ds.metrics != nil {
		ds.metrics.IncrementOperationErrors(operation)
	}
	return err
}
