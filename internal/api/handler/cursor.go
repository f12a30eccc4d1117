package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
)

// JobCursor marks the last job of a page in CreatedAt desc, ID desc order.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func DecodeJobCursor(cursorStr string) (*JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &JobCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     decodedParts[1],
	}, nil
}

func EncodeJobCursor(cursor *JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}

// after reports whether rec sorts after the cursor position.
func (c *JobCursor) after(rec domain.Record) bool {
	if !rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.CreatedAt.Before(c.CreatedAt)
	}
	return rec.ID < c.JobID
}

// paginate returns the page of recs following cursor and the cursor of the
// next page, if any. recs must be in List order.
func paginate(recs []domain.Record, cursor *JobCursor, pageSize int) ([]domain.Record, string) {
	start := 0
	if cursor != nil {
		start = len(recs)
		for i, rec := range recs {
			if cursor.after(rec) {
				start = i
				break
			}
		}
	}
	recs = recs[start:]

	if pageSize <= 0 || len(recs) <= pageSize {
		return recs, ""
	}

	page := recs[:pageSize]
	last := page[len(page)-1]
	return page, EncodeJobCursor(&JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
}
