package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is the embedded relational State Store. The database runs in WAL mode and every
// statement is prepared once at open.
type Store struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", path, q.Encode()))
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(4)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, types.Err(types.ErrDataStoreAccess, err, "create schema")
	}
	s := &Store{db: db, stmts: map[string]*sql.Stmt{}}
	for _, q := range []string{
		qLoadTrade, qLoadActorShop, qLoadActor, qScanTrades, qUpsertTrade,
		qDeleteTrade, qDeleteActor, qDeleteActorShop, qDeleteShopTrade, qDeleteShop, qListActors,
		qLoadPool, qLoadPoolShop, qScanPools, qUpsertPool, qDeletePool, qDeletePoolShop,
	} {
		stmt, err := db.Prepare(q)
		if err != nil {
			_ = s.Close()
			return nil, types.Err(types.ErrDataStoreAccess, err, "prepare statement")
		}
		s.stmts[q] = stmt
	}
	log.WithField("path", path).Info("sqlite state store opened")
	return s, nil
}

func (s *Store) Close() error {
	var errs []error
	for _, stmt := range s.stmts {
		errs = append(errs, stmt.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (types.TradeState, error) {
	var st types.TradeState
	err := row.Scan(&st.Actor, &st.Shop, &st.Trade, &st.Used, &st.Anchor, &st.WindowSeconds)
	return st, err
}

func scanPool(row scanner) (types.PoolState, error) {
	var st types.PoolState
	err := row.Scan(&st.Shop, &st.Trade, &st.Used, &st.Anchor, &st.WindowSeconds)
	return st, err
}

func (s *Store) queryTrades(ctx context.Context, q string, args ...any) ([]types.TradeState, error) {
	var out []types.TradeState
	err := s.eachRow(ctx, q, args, func(row scanner) error {
		st, err := scanTrade(row)
		if err == nil {
			out = append(out, st)
		}
		return err
	})
	return out, err
}

func (s *Store) queryPools(ctx context.Context, q string, args ...any) ([]types.PoolState, error) {
	var out []types.PoolState
	err := s.eachRow(ctx, q, args, func(row scanner) error {
		st, err := scanPool(row)
		if err == nil {
			out = append(out, st)
		}
		return err
	})
	return out, err
}

func (s *Store) eachRow(ctx context.Context, q string, args []any, fn func(scanner) error) error {
	rows, err := s.stmts[q].QueryContext(ctx, args...)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return types.Err(types.ErrDataStoreAccess, err, "")
		}
	}
	if err := rows.Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q string, args ...any) error {
	if _, err := s.stmts[q].ExecContext(ctx, args...); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

// inTx runs fn in one transaction with the prepared statement q bound to it.
func (s *Store) inTx(ctx context.Context, q string, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "begin")
	}
	stmt := tx.StmtContext(ctx, s.stmts[q])
	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if err := tx.Commit(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "commit")
	}
	return nil
}

func (s *Store) LoadTradeState(ctx context.Context, id types.ActorTradeID) (*types.TradeState, error) {
	st, err := scanTrade(s.stmts[qLoadTrade].QueryRowContext(ctx, id.Actor, id.Shop, id.Trade))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return &st, nil
}

func (s *Store) LoadActorShop(ctx context.Context, actor, shop string) ([]types.TradeState, error) {
	return s.queryTrades(ctx, qLoadActorShop, actor, shop)
}

func (s *Store) LoadActor(ctx context.Context, actor string) ([]types.TradeState, error) {
	return s.queryTrades(ctx, qLoadActor, actor)
}

func (s *Store) SaveTradeStates(ctx context.Context, states []types.TradeState) error {
	if len(states) == 0 {
		return nil
	}
	return s.inTx(ctx, qUpsertTrade, func(stmt *sql.Stmt) error {
		for _, st := range states {
			if _, err := stmt.ExecContext(ctx, st.Actor, st.Shop, st.Trade, st.Used, st.Anchor, st.WindowSeconds); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteTradeState(ctx context.Context, id types.ActorTradeID) error {
	return s.exec(ctx, qDeleteTrade, id.Actor, id.Shop, id.Trade)
}

func (s *Store) DeleteActor(ctx context.Context, actor string) error {
	return s.exec(ctx, qDeleteActor, actor)
}

func (s *Store) DeleteActorShop(ctx context.Context, actor, shop string) error {
	return s.exec(ctx, qDeleteActorShop, actor, shop)
}

func (s *Store) DeleteShopTrade(ctx context.Context, shop, trade string) error {
	return s.exec(ctx, qDeleteShopTrade, shop, trade)
}

func (s *Store) DeleteShop(ctx context.Context, shop string) error {
	return s.exec(ctx, qDeleteShop, shop)
}

func (s *Store) ListActors(ctx context.Context) ([]string, error) {
	var out []string
	err := s.eachRow(ctx, qListActors, nil, func(row scanner) error {
		var actor string
		if err := row.Scan(&actor); err != nil {
			return err
		}
		out = append(out, actor)
		return nil
	})
	return out, err
}

func (s *Store) LoadPoolState(ctx context.Context, id types.PoolTradeID) (*types.PoolState, error) {
	st, err := scanPool(s.stmts[qLoadPool].QueryRowContext(ctx, id.Shop, id.Trade))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return &st, nil
}

func (s *Store) LoadPoolShop(ctx context.Context, shop string) ([]types.PoolState, error) {
	return s.queryPools(ctx, qLoadPoolShop, shop)
}

func (s *Store) SavePoolStates(ctx context.Context, states []types.PoolState) error {
	if len(states) == 0 {
		return nil
	}
	return s.inTx(ctx, qUpsertPool, func(stmt *sql.Stmt) error {
		for _, st := range states {
			if _, err := stmt.ExecContext(ctx, st.Shop, st.Trade, st.Used, st.Anchor, st.WindowSeconds); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeletePoolState(ctx context.Context, id types.PoolTradeID) error {
	return s.exec(ctx, qDeletePool, id.Shop, id.Trade)
}

func (s *Store) DeletePoolShop(ctx context.Context, shop string) error {
	return s.exec(ctx, qDeletePoolShop, shop)
}

func (s *Store) ScanTradeStates(ctx context.Context, fn func(types.TradeState) error) error {
	return s.eachRow(ctx, qScanTrades, nil, func(row scanner) error {
		st, err := scanTrade(row)
		if err != nil {
			return err
		}
		return fn(st)
	})
}

func (s *Store) ScanPoolStates(ctx context.Context, fn func(types.PoolState) error) error {
	return s.eachRow(ctx, qScanPools, nil, func(row scanner) error {
		st, err := scanPool(row)
		if err != nil {
			return err
		}
		return fn(st)
	})
}
