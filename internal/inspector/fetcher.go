package inspector

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/javi11/nzbinspect/internal/yenc"
)

// SegmentFetcher returns decoded segment payloads. Decoded bytes are cached by
// message id and concurrent requests for the same id share one fetch.
type SegmentFetcher struct {
	source     Source
	maxDecoded int
	cache      *lru.Cache[string, []byte]
	group      singleflight.Group
	log        *slog.Logger
}

// NewSegmentFetcher creates a fetcher over source. maxDecoded caps each payload
// (zero disables the cap); cacheSize zero disables caching.
func NewSegmentFetcher(source Source, maxDecoded, cacheSize int) (*SegmentFetcher, error) {
	f := &SegmentFetcher{
		source:     source,
		maxDecoded: maxDecoded,
		log:        slog.Default().With("component", "segment-fetcher"),
	}

	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create segment cache: %w", err)
		}
		f.cache = cache
	}

	return f, nil
}

// FetchSegment returns the yEnc-decoded payload of messageID. The returned
// slice is shared with the cache and must not be modified.
func (f *SegmentFetcher) FetchSegment(ctx context.Context, messageID string) ([]byte, error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(messageID); ok {
			f.log.DebugContext(ctx, "Segment cache hit", "message_id", messageID)
			return data, nil
		}
	}

	v, err, shared := f.group.Do(messageID, func() (any, error) {
		body, err := f.source.FetchBody(ctx, messageID)
		if err != nil {
			return nil, err
		}

		data, err := yenc.Decode(body, f.maxDecoded)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", messageID, err)
		}

		if f.cache != nil {
			f.cache.Add(messageID, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	f.log.DebugContext(ctx, "Segment fetched", "message_id", messageID, "bytes", len(v.([]byte)), "shared", shared)
	return v.([]byte), nil
}

// Stat checks that messageID exists.
func (f *SegmentFetcher) Stat(ctx context.Context, messageID string) error {
	return f.source.Stat(ctx, messageID)
}
