// Package snapshot moves every stored record between State Stores as zstd-compressed JSON lines.
package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

const (
	kindTrade = "trade"
	kindPool  = "pool"

	importBatch = 500
	maxLine     = 1 << 20
)

// line is one record. Exactly one of Trade and Pool is set, as named by Kind.
type line struct {
	Kind  string            `json:"kind"`
	Trade *types.TradeState `json:"trade,omitempty"`
	Pool  *types.PoolState  `json:"pool,omitempty"`
}

type Counts struct {
	Trades int `json:"trades"`
	Pools  int `json:"pools"`
}

// Export writes every record of the store to w.
func Export(ctx context.Context, store ports.StateStore, w io.Writer) (Counts, error) {
	var n Counts
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return n, err
	}
	enc := json.NewEncoder(zw)
	err = store.ScanTradeStates(ctx, func(st types.TradeState) error {
		n.Trades++
		return enc.Encode(line{Kind: kindTrade, Trade: &st})
	})
	if err == nil {
		err = store.ScanPoolStates(ctx, func(st types.PoolState) error {
			n.Pools++
			return enc.Encode(line{Kind: kindPool, Pool: &st})
		})
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	log.WithFields(log.Fields{"trades": n.Trades, "pools": n.Pools}).Info("snapshot exported")
	return n, nil
}

// Import upserts every record read from r into the store, in batches.
// Records already in the store are overwritten; others are left alone.
func Import(ctx context.Context, store ports.StateStore, r io.Reader) (Counts, error) {
	var n Counts
	zr, err := zstd.NewReader(r)
	if err != nil {
		return n, err
	}
	defer zr.Close()

	var (
		trades []types.TradeState
		pools  []types.PoolState
	)
	flush := func() error {
		if err := store.SaveTradeStates(ctx, trades); err != nil {
			return err
		}
		if err := store.SavePoolStates(ctx, pools); err != nil {
			return err
		}
		n.Trades += len(trades)
		n.Pools += len(pools)
		trades, pools = trades[:0], pools[:0]
		return nil
	}

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		switch {
		case l.Kind == kindTrade && l.Trade != nil:
			trades = append(trades, *l.Trade)
		case l.Kind == kindPool && l.Pool != nil:
			pools = append(pools, *l.Pool)
		default:
			return n, fmt.Errorf("line %d: unknown record kind %q", lineNo, l.Kind)
		}
		if len(trades)+len(pools) >= importBatch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	if err := flush(); err != nil {
		return n, err
	}
	log.WithFields(log.Fields{"trades": n.Trades, "pools": n.Pools}).Info("snapshot imported")
	return n, nil
}
