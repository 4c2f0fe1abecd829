package types

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CooldownMode selects how a trade's quota window resets.
type CooldownMode int

const (
	CooldownRolling CooldownMode = iota // window measured from first use
	CooldownDaily                       // fixed wall-clock time every day
	CooldownWeekly                      // fixed wall-clock time on one day of the week
	CooldownNone                        // manual restock only
)

var cooldownModeNames = map[CooldownMode]string{
	CooldownRolling: "rolling",
	CooldownDaily:   "daily",
	CooldownWeekly:  "weekly",
	CooldownNone:    "none",
}

func (m CooldownMode) String() string {
	if s, ok := cooldownModeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseCooldownMode is case-insensitive. Unrecognized values fall back to rolling.
func ParseCooldownMode(s string) CooldownMode {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range cooldownModeNames {
		if name == s {
			return m
		}
	}
	return CooldownRolling
}

// StockMode selects whether actors consume independent quotas or a shared pool.
type StockMode int

const (
	PerActor StockMode = iota
	Pooled
)

func (m StockMode) String() string {
	if m == Pooled {
		return "shared"
	}
	return "per_player"
}

// ParseStockMode accepts "shared"/"pooled"; everything else is per-actor.
func ParseStockMode(s string) StockMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shared", "pooled":
		return Pooled
	default:
		return PerActor
	}
}

const (
	DefaultCooldownSeconds = 86400
	DefaultResetTime       = "00:00"
	DefaultResetDay        = "MONDAY"
)

var resetTimePattern = regexp.MustCompile(`^([0-1][0-9]|2[0-3]):[0-5][0-9]$`)

var weekdays = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

// TradeDefinition describes one tracked offer in a shop.
// Key is stable across UI reordering; Slot is only used to correlate trade-attempt events.
// Quota is the maximum number of uses per window (in pooled shops, the size of the shared pool).
// MaxPerActor is the per-actor cap inside a pooled shop, 0 means uncapped. It is ignored in per-actor shops.
// CooldownSeconds is only meaningful for rolling mode. ResetTime (HH:MM) applies to daily and weekly modes,
// ResetDay (e.g. "MONDAY") to weekly mode.
type TradeDefinition struct {
	Key             string       `json:"key"`
	Slot            int          `json:"slot"`
	Quota           int          `json:"quota"`
	CooldownMode    CooldownMode `json:"cooldown_mode"`
	CooldownSeconds int64        `json:"cooldown_seconds"`
	ResetTime       string       `json:"reset_time"`
	ResetDay        string       `json:"reset_day"`
	MaxPerActor     int          `json:"max_per_actor"`

	resetHour   int
	resetMinute int
	resetDay    time.Weekday
}

// ResetClock returns the compiled reset wall-clock time and weekday.
func (t *TradeDefinition) ResetClock() (hour, minute int, day time.Weekday) {
	return t.resetHour, t.resetMinute, t.resetDay
}

// ResetTimeString renders the reset schedule for status output.
func (t *TradeDefinition) ResetTimeString() string {
	switch t.CooldownMode {
	case CooldownDaily:
		return t.ResetTime
	case CooldownWeekly:
		day := strings.ToLower(t.ResetDay)
		if day == "" {
			return t.ResetTime
		}
		return strings.ToUpper(day[:1]) + day[1:] + " " + t.ResetTime
	case CooldownNone:
		return "Never"
	default:
		return ""
	}
}

func (t *TradeDefinition) compile(shopID string, pooled bool) []error {
	var errs []error
	if t.Quota <= 0 {
		errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': max-trades must be > 0", t.Key, shopID))
	}
	if t.Slot < 0 {
		errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': slot must be >= 0", t.Key, shopID))
	}
	if t.CooldownMode == CooldownRolling && t.CooldownSeconds <= 0 {
		errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': cooldown must be > 0 for rolling mode", t.Key, shopID))
	}
	if t.MaxPerActor < 0 {
		errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': max-per-player must be >= 0", t.Key, shopID))
	}
	if pooled && t.MaxPerActor > 0 && t.MaxPerActor > t.Quota {
		errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': max-per-player (%d) exceeds max-trades (%d)",
			t.Key, shopID, t.MaxPerActor, t.Quota))
	}
	if t.CooldownMode == CooldownDaily || t.CooldownMode == CooldownWeekly {
		if !resetTimePattern.MatchString(t.ResetTime) {
			errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': reset-time must be in HH:mm format (00:00 to 23:59). Current: '%s'",
				t.Key, shopID, t.ResetTime))
		} else {
			t.resetHour, _ = strconv.Atoi(t.ResetTime[:2])
			t.resetMinute, _ = strconv.Atoi(t.ResetTime[3:])
		}
	}
	if t.CooldownMode == CooldownWeekly {
		t.ResetDay = strings.ToUpper(strings.TrimSpace(t.ResetDay))
		day, ok := weekdays[t.ResetDay]
		if !ok {
			errs = append(errs, fmt.Errorf("trade '%s' in shop '%s': reset-day must be a valid day of the week. Current: '%s'",
				t.Key, shopID, t.ResetDay))
		}
		t.resetDay = day
	}
	return errs
}

// ShopDefinition is one tracked shop and its trades, keyed by trade key.
type ShopDefinition struct {
	ID      string
	Name    string
	Enabled bool
	Mode    StockMode
	// MaxPerActor, CooldownMode, CooldownSeconds, ResetTime and ResetDay are the shop defaults
	// trades inherit when they do not override them.
	MaxPerActor     int
	CooldownMode    CooldownMode
	CooldownSeconds int64
	ResetTime       string
	ResetDay        string
	Trades          map[string]*TradeDefinition

	bySlot map[int]*TradeDefinition
}

func (s *ShopDefinition) Pooled() bool { return s.Mode == Pooled }

func (s *ShopDefinition) Trade(key string) *TradeDefinition {
	return s.Trades[key]
}

func (s *ShopDefinition) TradeBySlot(slot int) *TradeDefinition {
	return s.bySlot[slot]
}

// ActorCap is the per-actor cap that applies to a trade, 0 when none does.
func (s *ShopDefinition) ActorCap(t *TradeDefinition) int {
	if s.Pooled() {
		return t.MaxPerActor
	}
	return 0
}

// DisplayMax is the "max uses" shown to a client: the per-actor cap when one applies, else the quota.
func (s *ShopDefinition) DisplayMax(t *TradeDefinition) int {
	if c := s.ActorCap(t); c > 0 {
		return c
	}
	return t.Quota
}

// OrderedTrades returns the trades sorted by slot.
func (s *ShopDefinition) OrderedTrades() []*TradeDefinition {
	out := make([]*TradeDefinition, 0, len(s.Trades))
	for _, t := range s.Trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func (s *ShopDefinition) compile() []error {
	var errs []error
	if s.Name == "" {
		s.Name = s.ID
	}
	s.bySlot = make(map[int]*TradeDefinition, len(s.Trades))
	for key, t := range s.Trades {
		if t.Key == "" {
			t.Key = key
		}
		if t.Key != key {
			errs = append(errs, fmt.Errorf("shop '%s': trade key '%s' registered as '%s'", s.ID, t.Key, key))
		}
		errs = append(errs, t.compile(s.ID, s.Pooled())...)
		if other, ok := s.bySlot[t.Slot]; ok {
			errs = append(errs, fmt.Errorf("shop '%s': duplicate slot %d (trades '%s' and '%s')", s.ID, t.Slot, other.Key, t.Key))
			continue
		}
		s.bySlot[t.Slot] = t
	}
	return errs
}

// Catalog is an immutable snapshot of every tracked shop. A reload builds a new one.
type Catalog struct {
	Shops map[string]*ShopDefinition
}

// NewCatalog validates and compiles the shop definitions. All diagnostics are reported at once,
// joined under ErrInvalidCatalog. Trade keys must be unique per shop, which the caller guarantees
// by reporting duplicates as it builds the Trades maps (see the catalog loader).
func NewCatalog(shops []*ShopDefinition) (*Catalog, error) {
	c := &Catalog{Shops: make(map[string]*ShopDefinition, len(shops))}
	var errs []error
	for _, s := range shops {
		if s.ID == "" {
			errs = append(errs, errors.New("shop with empty id"))
			continue
		}
		if _, ok := c.Shops[s.ID]; ok {
			errs = append(errs, fmt.Errorf("duplicate shop '%s'", s.ID))
			continue
		}
		errs = append(errs, s.compile()...)
		c.Shops[s.ID] = s
	}
	if len(errs) > 0 {
		return nil, Err(ErrInvalidCatalog, errors.Join(errs...), "")
	}
	return c, nil
}

func (c *Catalog) Shop(id string) *ShopDefinition {
	if c == nil {
		return nil
	}
	return c.Shops[id]
}

// Trade returns the shop and trade definitions, nil when either is unknown.
func (c *Catalog) Trade(shopID, tradeKey string) (*ShopDefinition, *TradeDefinition) {
	s := c.Shop(shopID)
	if s == nil {
		return nil, nil
	}
	t := s.Trade(tradeKey)
	if t == nil {
		return s, nil
	}
	return s, t
}
