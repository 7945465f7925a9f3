package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Record kinds used as the middle key segment.
const (
	KindBaseLog   = "pool_logs"
	KindArbitrage = "arbitrage"
	KindRebalance = "rebalance"
)

const keyTime = "20060102T150405.000000000Z"

// ArchiveStore is a LedgerStore that appends to an inner store and then
// mirrors each record as a JSON object under
// <prefix>/<base>/<kind>/<ts>-<id>.json. Mirror failures are logged and
// never fail the append.
type ArchiveStore struct {
	inner  domain.LedgerStore
	blobs  domain.BlobWriter
	prefix string
	logger *slog.Logger
}

var _ domain.LedgerStore = (*ArchiveStore)(nil)

func NewArchiveStore(inner domain.LedgerStore, blobs domain.BlobWriter, prefix string, logger *slog.Logger) *ArchiveStore {
	return &ArchiveStore{
		inner:  inner,
		blobs:  blobs,
		prefix: prefix,
		logger: logger.With(slog.String("component", "s3_archive")),
	}
}

// ObjectKey is where a record of kind for base is mirrored.
func ObjectKey(prefix, base, kind string, ts time.Time, id string) string {
	return path.Join(prefix, base, kind, ts.UTC().Format(keyTime)+"-"+id+".json")
}

func (a *ArchiveStore) AppendBaseLog(ctx context.Context, log domain.BaseLog) error {
	if err := a.inner.AppendBaseLog(ctx, log); err != nil {
		return err
	}
	a.mirror(ctx, ObjectKey(a.prefix, log.Base, KindBaseLog, log.Timestamp, log.ID), log)
	return nil
}

func (a *ArchiveStore) AppendArbitrage(ctx context.Context, trade domain.ArbitrageTrade) error {
	if err := a.inner.AppendArbitrage(ctx, trade); err != nil {
		return err
	}
	a.mirror(ctx, ObjectKey(a.prefix, trade.Base, KindArbitrage, trade.DateTime, trade.ID), trade)
	return nil
}

func (a *ArchiveStore) AppendRebalance(ctx context.Context, trade domain.RebalanceTrade) error {
	if err := a.inner.AppendRebalance(ctx, trade); err != nil {
		return err
	}
	a.mirror(ctx, ObjectKey(a.prefix, trade.Base, KindRebalance, trade.DateTime, trade.ID), trade)
	return nil
}

func (a *ArchiveStore) LatestBaseLog(ctx context.Context, base string) (domain.BaseLog, error) {
	return a.inner.LatestBaseLog(ctx, base)
}

func (a *ArchiveStore) mirror(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err == nil {
		err = a.blobs.Put(ctx, key, bytes.NewReader(data), "application/json")
	} else {
		err = fmt.Errorf("s3blob: marshal %s: %w", key, err)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "mirror record failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
