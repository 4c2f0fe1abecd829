package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS actor_trades (
	actor_id       TEXT    NOT NULL,
	shop_id        TEXT    NOT NULL,
	trade_key      TEXT    NOT NULL,
	uses           INTEGER NOT NULL DEFAULT 0,
	anchor         INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (actor_id, shop_id, trade_key)
);
CREATE INDEX IF NOT EXISTS idx_actor_trades_shop ON actor_trades (shop_id, trade_key);
CREATE TABLE IF NOT EXISTS pool_trades (
	shop_id        TEXT    NOT NULL,
	trade_key      TEXT    NOT NULL,
	uses           INTEGER NOT NULL DEFAULT 0,
	anchor         INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (shop_id, trade_key)
);
`

const (
	qTradeCols = `actor_id, shop_id, trade_key, uses, anchor, window_seconds`
	qPoolCols  = `shop_id, trade_key, uses, anchor, window_seconds`

	qLoadTrade      = `SELECT ` + qTradeCols + ` FROM actor_trades WHERE actor_id = ? AND shop_id = ? AND trade_key = ?`
	qLoadActorShop  = `SELECT ` + qTradeCols + ` FROM actor_trades WHERE actor_id = ? AND shop_id = ?`
	qLoadActor      = `SELECT ` + qTradeCols + ` FROM actor_trades WHERE actor_id = ?`
	qScanTrades     = `SELECT ` + qTradeCols + ` FROM actor_trades`
	qUpsertTrade    = `INSERT INTO actor_trades (` + qTradeCols + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (actor_id, shop_id, trade_key) DO UPDATE SET
		uses = excluded.uses, anchor = excluded.anchor, window_seconds = excluded.window_seconds`
	qDeleteTrade     = `DELETE FROM actor_trades WHERE actor_id = ? AND shop_id = ? AND trade_key = ?`
	qDeleteActor     = `DELETE FROM actor_trades WHERE actor_id = ?`
	qDeleteActorShop = `DELETE FROM actor_trades WHERE actor_id = ? AND shop_id = ?`
	qDeleteShopTrade = `DELETE FROM actor_trades WHERE shop_id = ? AND trade_key = ?`
	qDeleteShop      = `DELETE FROM actor_trades WHERE shop_id = ?`
	qListActors      = `SELECT DISTINCT actor_id FROM actor_trades`

	qLoadPool       = `SELECT ` + qPoolCols + ` FROM pool_trades WHERE shop_id = ? AND trade_key = ?`
	qLoadPoolShop   = `SELECT ` + qPoolCols + ` FROM pool_trades WHERE shop_id = ?`
	qScanPools      = `SELECT ` + qPoolCols + ` FROM pool_trades`
	qUpsertPool     = `INSERT INTO pool_trades (` + qPoolCols + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, trade_key) DO UPDATE SET
		uses = excluded.uses, anchor = excluded.anchor, window_seconds = excluded.window_seconds`
	qDeletePool     = `DELETE FROM pool_trades WHERE shop_id = ? AND trade_key = ?`
	qDeletePoolShop = `DELETE FROM pool_trades WHERE shop_id = ?`
)
