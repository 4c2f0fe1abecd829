package catalog

import (
	"fmt"
	"os"
	"strings"

	"stockcontrol/internal/types"

	"github.com/goccy/go-yaml"
)

// The file layout mirrors the trades file operators already know:
//
//	shops:
//	  blacksmith:
//	    name: Blacksmith
//	    stock-mode: shared
//	    max-per-player: 2
//	    cooldown-mode: daily
//	    reset-time: "06:00"
//	    trades:
//	      diamond_sword:
//	        slot: 0
//	        max-trades: 10
type fileCatalog struct {
	Shops map[string]fileShop `yaml:"shops"`
}

type fileShop struct {
	Name         string               `yaml:"name"`
	Enabled      *bool                `yaml:"enabled"`
	StockMode    string               `yaml:"stock-mode"`
	MaxPerPlayer int                  `yaml:"max-per-player"`
	CooldownMode string               `yaml:"cooldown-mode"`
	Cooldown     *int64               `yaml:"cooldown"`
	ResetTime    string               `yaml:"reset-time"`
	ResetDay     string               `yaml:"reset-day"`
	Trades       map[string]fileTrade `yaml:"trades"`
}

type fileTrade struct {
	Slot         *int    `yaml:"slot"`
	MaxTrades    *int    `yaml:"max-trades"`
	Cooldown     *int64  `yaml:"cooldown"`
	CooldownMode *string `yaml:"cooldown-mode"`
	ResetTime    *string `yaml:"reset-time"`
	ResetDay     *string `yaml:"reset-day"`
	MaxPerPlayer *int    `yaml:"max-per-player"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*types.Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML catalog. Trade settings fall back to their shop's settings;
// unknown cooldown or stock modes fall back to rolling and per-actor.
func Parse(b []byte) (*types.Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, types.Err(types.ErrInvalidCatalog, err, "")
	}
	shops := make([]*types.ShopDefinition, 0, len(fc.Shops))
	for id, fs := range fc.Shops {
		shops = append(shops, buildShop(id, fs))
	}
	return types.NewCatalog(shops)
}

func buildShop(id string, fs fileShop) *types.ShopDefinition {
	shop := &types.ShopDefinition{
		ID:              id,
		Name:            fs.Name,
		Enabled:         fs.Enabled == nil || *fs.Enabled,
		Mode:            types.ParseStockMode(fs.StockMode),
		MaxPerActor:     fs.MaxPerPlayer,
		CooldownMode:    types.ParseCooldownMode(fs.CooldownMode),
		CooldownSeconds: types.DefaultCooldownSeconds,
		ResetTime:       fs.ResetTime,
		ResetDay:        strings.ToUpper(fs.ResetDay),
		Trades:          make(map[string]*types.TradeDefinition, len(fs.Trades)),
	}
	if fs.Cooldown != nil {
		shop.CooldownSeconds = *fs.Cooldown
	}
	if shop.ResetTime == "" {
		shop.ResetTime = types.DefaultResetTime
	}
	if shop.ResetDay == "" {
		shop.ResetDay = types.DefaultResetDay
	}
	for key, ft := range fs.Trades {
		t := &types.TradeDefinition{
			Key:             key,
			Slot:            -1,
			Quota:           1,
			CooldownMode:    shop.CooldownMode,
			CooldownSeconds: shop.CooldownSeconds,
			ResetTime:       shop.ResetTime,
			ResetDay:        shop.ResetDay,
			MaxPerActor:     shop.MaxPerActor,
		}
		if ft.Slot != nil {
			t.Slot = *ft.Slot
		}
		if ft.MaxTrades != nil {
			t.Quota = *ft.MaxTrades
		}
		if ft.Cooldown != nil {
			t.CooldownSeconds = *ft.Cooldown
		}
		if ft.CooldownMode != nil {
			t.CooldownMode = types.ParseCooldownMode(*ft.CooldownMode)
		}
		if ft.ResetTime != nil {
			t.ResetTime = *ft.ResetTime
		}
		if ft.ResetDay != nil {
			t.ResetDay = strings.ToUpper(*ft.ResetDay)
		}
		if ft.MaxPerPlayer != nil {
			t.MaxPerActor = *ft.MaxPerPlayer
		}
		shop.Trades[key] = t
	}
	return shop
}
