package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vidproxy/pkg/types"

	"github.com/Masterminds/squirrel"
)

// SaveDescriptor inserts or replaces a descriptor. Its cookie records are
// rewritten in the cookies table.
func (s *Store) SaveDescriptor(ctx context.Context, d *types.VideoDescriptor) error {
	if d == nil || d.VideoID == "" {
		return errors.New("descriptor has no video id")
	}

	body := *d
	body.Cookies = nil
	blob, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor %q: %w", d.VideoID, err)
	}

	now := time.Now().UTC()
	scrapedAt := d.ScrapedAt.UTC()
	if d.ScrapedAt.IsZero() {
		scrapedAt = now
	}

	const upsertSuffix = "ON CONFLICT (" + colVideoID + ") DO UPDATE SET " +
		colTitle + " = EXCLUDED." + colTitle + ", " +
		colThumbnail + " = EXCLUDED." + colThumbnail + ", " +
		colSourceCount + " = EXCLUDED." + colSourceCount + ", " +
		colCookieHeader + " = EXCLUDED." + colCookieHeader + ", " +
		colSimpleCookieHeader + " = EXCLUDED." + colSimpleCookieHeader + ", " +
		colDescriptor + " = EXCLUDED." + colDescriptor + ", " +
		colScrapedAt + " = EXCLUDED." + colScrapedAt + ", " +
		colUpdatedAt + " = EXCLUDED." + colUpdatedAt

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		query := squirrel.
			Insert(tableVideos).
			Columns(
				colVideoID,
				colTitle,
				colThumbnail,
				colSourceCount,
				colCookieHeader,
				colSimpleCookieHeader,
				colDescriptor,
				colScrapedAt,
				colUpdatedAt,
			).
			Values(
				d.VideoID,
				d.Title,
				d.ThumbnailURL,
				len(d.Sources),
				d.CookieHeader,
				d.SimpleCookieHeader,
				string(blob),
				scrapedAt,
				now,
			).
			Suffix(upsertSuffix).
			RunWith(tx)

		if _, err := query.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to upsert video %q: %w", d.VideoID, err)
		}

		if _, err := squirrel.Delete(tableCookies).
			Where(squirrel.Eq{colVideoID: d.VideoID}).
			RunWith(tx).
			ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to clear cookies for %q: %w", d.VideoID, err)
		}

		if len(d.Cookies) == 0 {
			return nil
		}

		insert := squirrel.
			Insert(tableCookies).
			Columns(colVideoID, colPosition, colName, colValue, colAttributes, colRaw, colExpiresAt)
		for i, c := range d.Cookies {
			attrs, err := json.Marshal(c.Attributes)
			if err != nil {
				return fmt.Errorf("failed to encode cookie %q attributes: %w", c.Name, err)
			}
			insert = insert.Values(d.VideoID, i, c.Name, c.Value, string(attrs), c.Raw, nullTime(c.ExpiresAt))
		}
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to insert cookies for %q: %w", d.VideoID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug("saved descriptor", "video_id", d.VideoID, "sources", len(d.Sources), "cookies", len(d.Cookies))
	return nil
}

// GetDescriptor loads a descriptor with its cookie records.
func (s *Store) GetDescriptor(ctx context.Context, videoID string) (*types.VideoDescriptor, error) {
	var blob string
	var scrapedAt time.Time

	err := squirrel.
		Select(colDescriptor, colScrapedAt).
		From(tableVideos).
		Where(squirrel.Eq{colVideoID: videoID}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&blob, &scrapedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %q: %w", videoID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query video %q: %w", videoID, err)
	}

	d, err := decodeDescriptor(blob)
	if err != nil {
		return nil, fmt.Errorf("video %q: %w", videoID, err)
	}
	d.ScrapedAt = scrapedAt

	if d.Cookies, err = s.cookies(ctx, videoID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDescriptors returns every stored descriptor, most recently scraped first.
// Cookie records are not loaded.
func (s *Store) ListDescriptors(ctx context.Context) ([]*types.VideoDescriptor, error) {
	rows, err := squirrel.
		Select(colDescriptor, colScrapedAt).
		From(tableVideos).
		OrderBy(colScrapedAt + " DESC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var out []*types.VideoDescriptor
	for rows.Next() {
		var blob string
		var scrapedAt time.Time
		if err := rows.Scan(&blob, &scrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		d, err := decodeDescriptor(blob)
		if err != nil {
			s.log.Warn("skipping unreadable descriptor", "error", err)
			continue
		}
		d.ScrapedAt = scrapedAt
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDescriptor removes a video, its cookies and its download jobs.
func (s *Store) DeleteDescriptor(ctx context.Context, videoID string) error {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := squirrel.Delete(tableCookies).
			Where(squirrel.Eq{colVideoID: videoID}).
			RunWith(tx).
			ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to delete cookies for %q: %w", videoID, err)
		}

		res, err := squirrel.Delete(tableVideos).
			Where(squirrel.Eq{colVideoID: videoID}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete video %q: %w", videoID, err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}

		if _, err := squirrel.Delete(tableJobs).
			Where(squirrel.Eq{colVideoID: videoID}).
			RunWith(tx).
			ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to delete jobs for %q: %w", videoID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("video %q: %w", videoID, ErrNotFound)
	}

	s.log.Info("deleted video", "video_id", videoID)
	return nil
}

func (s *Store) cookies(ctx context.Context, videoID string) ([]types.CookieRecord, error) {
	rows, err := squirrel.
		Select(colName, colValue, colAttributes, colRaw, colExpiresAt).
		From(tableCookies).
		Where(squirrel.Eq{colVideoID: videoID}).
		OrderBy(colPosition).
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query cookies for %q: %w", videoID, err)
	}
	defer rows.Close()

	records := []types.CookieRecord{}
	for rows.Next() {
		var (
			c       types.CookieRecord
			attrs   string
			expires sql.NullTime
		)
		if err := rows.Scan(&c.Name, &c.Value, &attrs, &c.Raw, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan cookie row: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &c.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode cookie %q attributes: %w", c.Name, err)
		}
		if expires.Valid {
			t := expires.Time
			c.ExpiresAt = &t
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

func decodeDescriptor(blob string) (*types.VideoDescriptor, error) {
	d := types.NewVideoDescriptor()
	if err := json.Unmarshal([]byte(blob), d); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
