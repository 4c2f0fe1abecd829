package api

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"stockcontrol/internal/flow"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

const (
	ActorExprEnvKey = "EVENT_ACTOR_EXPR"
	ShopExprEnvKey  = "EVENT_SHOP_EXPR"
	TradeExprEnvKey = "EVENT_TRADE_EXPR"
	SlotExprEnvKey  = "EVENT_SLOT_EXPR"
	SeenExprEnvKey  = "EVENT_SEEN_EXPR"
)

// EventMapping locates the event fields in a host payload with JMESPath expressions, so hosts can post
// their own event shape.
type EventMapping struct {
	Actor *jmespath.JMESPath
	Shop  *jmespath.JMESPath
	Trade *jmespath.JMESPath
	Slot  *jmespath.JMESPath
	// Seen selects an optional last-seen time (epoch seconds) reported by the host.
	Seen *jmespath.JMESPath
}

func DefaultMapping() EventMapping {
	m, _ := NewMapping("actor", "shop", "trade", "slot", "seen_at")
	return m
}

func NewMapping(actor, shop, trade, slot, seen string) (EventMapping, error) {
	var (
		m    EventMapping
		errs []error
	)
	compile := func(dst **jmespath.JMESPath, expr string) {
		c, err := jmespath.Compile(expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("jmespath %q: %w", expr, err))
			return
		}
		*dst = c
	}
	compile(&m.Actor, actor)
	compile(&m.Shop, shop)
	compile(&m.Trade, trade)
	compile(&m.Slot, slot)
	compile(&m.Seen, seen)
	return m, errors.Join(errs...)
}

// MappingFromEnv reads the EVENT_*_EXPR overrides on top of the default field names.
func MappingFromEnv() (EventMapping, error) {
	return NewMapping(
		getenv(ActorExprEnvKey, "actor"),
		getenv(ShopExprEnvKey, "shop"),
		getenv(TradeExprEnvKey, "trade"),
		getenv(SlotExprEnvKey, "slot"),
		getenv(SeenExprEnvKey, "seen_at"),
	)
}

// Event extracts a trade event from a decoded JSON payload. Missing optional fields are left zero;
// the actor is required.
func (m EventMapping) Event(payload map[string]any) (flow.TradeEvent, error) {
	var ev flow.TradeEvent
	actor, err := evalString(m.Actor, payload)
	if err != nil {
		return ev, err
	}
	if actor == nil || *actor == "" {
		return ev, fmt.Errorf("missing actor")
	}
	ev.Actor = *actor
	if shop, err := evalString(m.Shop, payload); err != nil {
		return ev, err
	} else if shop != nil {
		ev.Shop = *shop
	}
	if trade, err := evalString(m.Trade, payload); err != nil {
		return ev, err
	} else if trade != nil {
		ev.Trade = *trade
	}
	slot, err := m.Slot.Search(payload)
	if err != nil {
		return ev, fmt.Errorf("jmespath: %w", err)
	}
	if slot != nil {
		n, err := toInt(slot)
		if err != nil {
			return ev, fmt.Errorf("slot: %w", err)
		}
		ev.Slot = &n
	}
	return ev, nil
}

// SeenAt returns the host-reported last-seen time, if the payload carries one.
func (m EventMapping) SeenAt(payload map[string]any) (time.Time, bool) {
	v, err := m.Seen.Search(payload)
	if err != nil || v == nil {
		return time.Time{}, false
	}
	n, err := toInt(v)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0), true
}

// evalString coerces the selection to string; primitives are JSON-encoded if needed.
func evalString(expr *jmespath.JMESPath, payload map[string]any) (*string, error) {
	v, err := expr.Search(payload)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return &t, nil
	default:
		b, _ := json.Marshal(t)
		bs := string(b)
		return &bs, nil
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
