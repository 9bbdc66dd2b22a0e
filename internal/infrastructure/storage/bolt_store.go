package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/ports"
)

var (
	bucketNews             = []byte("news")
	bucketNewsByPublished  = []byte("news_by_published")
	bucketScores           = []byte("scores")
	bucketScoresByCalcTime = []byte("scores_by_calculated")
)

const (
	timeKeyPrefix = 12
	signBit       = uint64(1) << 63
)

// BoltStore keeps items and scores in an embedded bbolt file.
// Every upsert call is one write transaction; reads run in snapshot
// transactions and never block the writer.
type BoltStore struct {
	db     *bbolt.DB
	window int
	now    func() time.Time
}

var _ ports.ScoreStore = (*BoltStore)(nil)

// BoltOption customizes a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltClock overrides the clock that stamps calculated_at.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(s *BoltStore) { s.now = now }
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string, window int, opts ...BoltOption) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketNews, bucketNewsByPublished, bucketScores, bucketScoresByCalcTime} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	if window <= 0 {
		window = domain.DefaultRiskWindow
	}

	s := &BoltStore{db: db, window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// UpsertItems replaces or inserts items by URL. Items without URL are skipped.
func (s *BoltStore) UpsertItems(ctx context.Context, items []domain.NewsItem) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	written := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		news := tx.Bucket(bucketNews)
		index := tx.Bucket(bucketNewsByPublished)

		for _, item := range items {
			if item.URL == "" {
				continue
			}
			key := []byte(item.URL)

			if raw := news.Get(key); raw != nil {
				var previous domain.NewsItem
				if err := json.Unmarshal(raw, &previous); err != nil {
					return fmt.Errorf("decode item %s: %w", item.URL, err)
				}
				if err := index.Delete(timeKey(previous.PublishedAt, item.URL)); err != nil {
					return fmt.Errorf("drop item index %s: %w", item.URL, err)
				}
			}

			item.PublishedAt = item.PublishedAt.UTC()
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("encode item %s: %w", item.URL, err)
			}
			if err := news.Put(key, data); err != nil {
				return fmt.Errorf("put item %s: %w", item.URL, err)
			}
			if err := index.Put(timeKey(item.PublishedAt, item.URL), key); err != nil {
				return fmt.Errorf("index item %s: %w", item.URL, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}

	return written, nil
}

// UpsertScores replaces or inserts scores by item URL, stamping all of
// them with the same calculated_at.
func (s *BoltStore) UpsertScores(ctx context.Context, scores []domain.ThreatScore) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	calculatedAt := s.now().UTC()
	written := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketScores)
		index := tx.Bucket(bucketScoresByCalcTime)

		for _, score := range scores {
			if score.ItemURL == "" {
				continue
			}
			key := []byte(score.ItemURL)

			if raw := bucket.Get(key); raw != nil {
				var previous domain.ThreatScore
				if err := json.Unmarshal(raw, &previous); err != nil {
					return fmt.Errorf("decode score %s: %w", score.ItemURL, err)
				}
				if err := index.Delete(timeKey(previous.CalculatedAt, score.ItemURL)); err != nil {
					return fmt.Errorf("drop score index %s: %w", score.ItemURL, err)
				}
			}

			score.CalculatedAt = calculatedAt
			data, err := json.Marshal(score)
			if err != nil {
				return fmt.Errorf("encode score %s: %w", score.ItemURL, err)
			}
			if err := bucket.Put(key, data); err != nil {
				return fmt.Errorf("put score %s: %w", score.ItemURL, err)
			}
			if err := index.Put(timeKey(calculatedAt, score.ItemURL), key); err != nil {
				return fmt.Errorf("index score %s: %w", score.ItemURL, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert scores: %w", err)
	}

	return written, nil
}

// FetchLatest joins items with their scores, newest publication first.
func (s *BoltStore) FetchLatest(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.FeedEntry{}, nil
	}

	entries := make([]domain.FeedEntry, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		news := tx.Bucket(bucketNews)
		scores := tx.Bucket(bucketScores)
		c := tx.Bucket(bucketNewsByPublished).Cursor()

		for k, url := c.Last(); k != nil && len(entries) < limit; k, url = c.Prev() {
			raw := news.Get(url)
			if raw == nil {
				continue
			}
			var item domain.NewsItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return fmt.Errorf("decode item %s: %w", url, err)
			}

			entry := domain.FeedEntry{
				Source:      item.Source,
				Category:    item.Category,
				Title:       item.Title,
				URL:         item.URL,
				PublishedAt: item.PublishedAt,
				Summary:     item.Summary,
			}

			if rawScore := scores.Get(url); rawScore != nil {
				var score domain.ThreatScore
				if err := json.Unmarshal(rawScore, &score); err != nil {
					return fmt.Errorf("decode score %s: %w", url, err)
				}
				final, label := score.Final, score.Label
				entry.FinalScore = &final
				entry.Label = &label
			}

			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch latest: %w", err)
	}

	return entries, nil
}

// FetchGlobalRisk averages the final score of the most recently calculated
// scores, or returns domain.NeutralRisk for an empty store.
func (s *BoltStore) FetchGlobalRisk(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		sum   float64
		count int
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		scores := tx.Bucket(bucketScores)
		c := tx.Bucket(bucketScoresByCalcTime).Cursor()

		for k, url := c.Last(); k != nil && count < s.window; k, url = c.Prev() {
			final, ok, err := finalOf(scores, url)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			sum += final
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fetch global risk: %w", err)
	}

	if count == 0 {
		return domain.NeutralRisk, nil
	}
	return sum / float64(count), nil
}

// FetchRiskHistory averages scores per calculation minute, oldest first,
// returning at most limit buckets.
func (s *BoltStore) FetchRiskHistory(ctx context.Context, limit int) ([]domain.RiskPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.RiskPoint{}, nil
	}

	points := make([]domain.RiskPoint, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		scores := tx.Bucket(bucketScores)
		c := tx.Bucket(bucketScoresByCalcTime).Cursor()

		var (
			bucket time.Time
			sum    float64
			count  int
		)
		flush := func() {
			if count > 0 {
				points = append(points, domain.RiskPoint{Bucket: bucket, AverageRisk: sum / float64(count)})
			}
		}

		for k, url := c.First(); k != nil; k, url = c.Next() {
			minute := keyTime(k).Truncate(time.Minute)
			if count > 0 && !minute.Equal(bucket) {
				flush()
				if len(points) == limit {
					return nil
				}
				sum, count = 0, 0
			}
			final, ok, err := finalOf(scores, url)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			bucket = minute
			sum += final
			count++
		}
		flush()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch risk history: %w", err)
	}

	return points, nil
}

func finalOf(scores *bbolt.Bucket, url []byte) (float64, bool, error) {
	raw := scores.Get(url)
	if raw == nil {
		return 0, false, nil
	}
	var score domain.ThreatScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0, false, fmt.Errorf("decode score %s: %w", url, err)
	}
	return score.Final, true, nil
}

// timeKey orders entries by time, then URL. The prefix holds the unix
// seconds with the sign bit flipped, so pre-1970 instants sort first, and
// then the nanosecond of the second.
func timeKey(t time.Time, url string) []byte {
	key := make([]byte, timeKeyPrefix+len(url))
	binary.BigEndian.PutUint64(key[:8], uint64(t.Unix())^signBit)
	binary.BigEndian.PutUint32(key[8:timeKeyPrefix], uint32(t.Nanosecond()))
	copy(key[timeKeyPrefix:], url)
	return key
}

func keyTime(key []byte) time.Time {
	if len(key) < timeKeyPrefix {
		return time.Time{}
	}
	sec := int64(binary.BigEndian.Uint64(key[:8]) ^ signBit)
	nsec := int64(binary.BigEndian.Uint32(key[8:timeKeyPrefix]))
	return time.Unix(sec, nsec).UTC()
}
