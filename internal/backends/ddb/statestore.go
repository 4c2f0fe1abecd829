package ddb

import (
	"context"

	"stockcontrol/internal/types"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// StateStore implements ports.StateStore in a single table.
// Per-actor records live under PK=ACTOR#<actor>, SK=TRADE#<shop>#<trade>,
// pooled records under PK=POOL#<shop>, SK=TRADE#<trade>. Ids are also stored as plain
// attributes, which is what records are decoded from.
type StateStore struct {
	table string
	cli   *dynamodb.Client
}

type tradeItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.TradeState
}

type poolItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.PoolState
}

func NewStateStore(ctx context.Context, table string, cli *dynamodb.Client) (*StateStore, error) {
	if err := createTableIfNotExists(ctx, cli, table); err != nil {
		return nil, err
	}
	return &StateStore{table: table, cli: cli}, nil
}

func (s *StateStore) Close() error { return nil }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return types.Err(types.ErrDataStoreAccess, err, "")
}

func keyOf(pk, sk string) map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pk},
		"SK": &ddbTypes.AttributeValueMemberS{Value: sk},
	}
}

func (s *StateStore) get(ctx context.Context, pk, sk string, out any) (bool, error) {
	res, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key:            keyOf(pk, sk),
	})
	if err != nil {
		return false, wrap(err)
	}
	if res.Item == nil {
		return false, nil
	}
	return true, wrap(attributevalue.UnmarshalMap(res.Item, out))
}

// query walks every item of a partition whose SK starts with prefix.
func (s *StateStore) query(ctx context.Context, pk, prefix string, fn func(map[string]ddbTypes.AttributeValue) error) error {
	p := dynamodb.NewQueryPaginator(s.cli, &dynamodb.QueryInput{
		TableName:              &s.table,
		ConsistentRead:         awsBool(true),
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pk},
			":sk": &ddbTypes.AttributeValueMemberS{Value: prefix},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return wrap(err)
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// scan walks every item whose PK starts with prefix and that matches the optional extra filter.
func (s *StateStore) scan(ctx context.Context, prefix, filter string, values map[string]ddbTypes.AttributeValue,
	fn func(map[string]ddbTypes.AttributeValue) error) error {
	expr := "begins_with(PK, :pfx)"
	if filter != "" {
		expr += " AND " + filter
	}
	vals := map[string]ddbTypes.AttributeValue{
		":pfx": &ddbTypes.AttributeValueMemberS{Value: prefix},
	}
	for k, v := range values {
		vals[k] = v
	}
	p := dynamodb.NewScanPaginator(s.cli, &dynamodb.ScanInput{
		TableName:                 &s.table,
		ConsistentRead:            awsBool(true),
		FilterExpression:          &expr,
		ExpressionAttributeValues: vals,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return wrap(err)
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectTrades(out *[]types.TradeState, keep func(types.TradeState) bool) func(map[string]ddbTypes.AttributeValue) error {
	return func(item map[string]ddbTypes.AttributeValue) error {
		var it tradeItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return wrap(err)
		}
		if keep == nil || keep(it.TradeState) {
			*out = append(*out, it.TradeState)
		}
		return nil
	}
}

// transact writes the actions in chunks. Each chunk is atomic; a batch larger than one chunk is not.
func (s *StateStore) transact(ctx context.Context, items []ddbTypes.TransactWriteItem) error {
	for start := 0; start < len(items); start += maxTransactItems {
		end := min(start+maxTransactItems, len(items))
		_, err := s.cli.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items[start:end],
		})
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"table": s.table,
				"chunk": start / maxTransactItems,
				"size":  end - start,
			}).Error("transact write failed")
			return wrap(err)
		}
	}
	return nil
}

func (s *StateStore) put(item any) (ddbTypes.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return ddbTypes.TransactWriteItem{}, wrap(err)
	}
	return ddbTypes.TransactWriteItem{Put: &ddbTypes.Put{TableName: &s.table, Item: av}}, nil
}

func (s *StateStore) del(pk, sk string) ddbTypes.TransactWriteItem {
	return ddbTypes.TransactWriteItem{Delete: &ddbTypes.Delete{TableName: &s.table, Key: keyOf(pk, sk)}}
}

func (s *StateStore) LoadTradeState(ctx context.Context, id types.ActorTradeID) (*types.TradeState, error) {
	var it tradeItem
	ok, err := s.get(ctx, pkActor(id.Actor), skActorTrade(id.Shop, id.Trade), &it)
	if err != nil || !ok {
		return nil, err
	}
	return &it.TradeState, nil
}

func (s *StateStore) LoadActorShop(ctx context.Context, actor, shop string) ([]types.TradeState, error) {
	var out []types.TradeState
	// the SK prefix can over-match when shop ids contain '#'
	err := s.query(ctx, pkActor(actor), skActorShop(shop), collectTrades(&out, func(st types.TradeState) bool {
		return st.Shop == shop
	}))
	return out, err
}

func (s *StateStore) LoadActor(ctx context.Context, actor string) ([]types.TradeState, error) {
	var out []types.TradeState
	err := s.query(ctx, pkActor(actor), STrade+"#", collectTrades(&out, nil))
	return out, err
}

func (s *StateStore) SaveTradeStates(ctx context.Context, states []types.TradeState) error {
	items := make([]ddbTypes.TransactWriteItem, 0, len(states))
	for _, st := range states {
		w, err := s.put(tradeItem{PK: pkActor(st.Actor), SK: skActorTrade(st.Shop, st.Trade), TradeState: st})
		if err != nil {
			return err
		}
		items = append(items, w)
	}
	return s.transact(ctx, items)
}

func (s *StateStore) deleteTrades(ctx context.Context, states []types.TradeState) error {
	items := make([]ddbTypes.TransactWriteItem, 0, len(states))
	for _, st := range states {
		items = append(items, s.del(pkActor(st.Actor), skActorTrade(st.Shop, st.Trade)))
	}
	return s.transact(ctx, items)
}

func (s *StateStore) DeleteTradeState(ctx context.Context, id types.ActorTradeID) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       keyOf(pkActor(id.Actor), skActorTrade(id.Shop, id.Trade)),
	})
	return wrap(err)
}

func (s *StateStore) DeleteActor(ctx context.Context, actor string) error {
	states, err := s.LoadActor(ctx, actor)
	if err != nil {
		return err
	}
	return s.deleteTrades(ctx, states)
}

func (s *StateStore) DeleteActorShop(ctx context.Context, actor, shop string) error {
	states, err := s.LoadActorShop(ctx, actor, shop)
	if err != nil {
		return err
	}
	return s.deleteTrades(ctx, states)
}

// Cross-actor deletes scan the table. They only back admin resets and restocks.
func (s *StateStore) DeleteShopTrade(ctx context.Context, shop, trade string) error {
	var states []types.TradeState
	err := s.scan(ctx, SActor+"#", "shop_id = :shop AND trade_key = :trade", map[string]ddbTypes.AttributeValue{
		":shop":  &ddbTypes.AttributeValueMemberS{Value: shop},
		":trade": &ddbTypes.AttributeValueMemberS{Value: trade},
	}, collectTrades(&states, nil))
	if err != nil {
		return err
	}
	return s.deleteTrades(ctx, states)
}

func (s *StateStore) DeleteShop(ctx context.Context, shop string) error {
	var states []types.TradeState
	err := s.scan(ctx, SActor+"#", "shop_id = :shop", map[string]ddbTypes.AttributeValue{
		":shop": &ddbTypes.AttributeValueMemberS{Value: shop},
	}, collectTrades(&states, nil))
	if err != nil {
		return err
	}
	return s.deleteTrades(ctx, states)
}

func (s *StateStore) ListActors(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	err := s.scan(ctx, SActor+"#", "", nil, func(item map[string]ddbTypes.AttributeValue) error {
		var it tradeItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return wrap(err)
		}
		if _, ok := seen[it.Actor]; !ok {
			seen[it.Actor] = struct{}{}
			out = append(out, it.Actor)
		}
		return nil
	})
	return out, err
}

func (s *StateStore) LoadPoolState(ctx context.Context, id types.PoolTradeID) (*types.PoolState, error) {
	var it poolItem
	ok, err := s.get(ctx, pkPool(id.Shop), skPoolTrade(id.Trade), &it)
	if err != nil || !ok {
		return nil, err
	}
	return &it.PoolState, nil
}

func (s *StateStore) collectPools(out *[]types.PoolState) func(map[string]ddbTypes.AttributeValue) error {
	return func(item map[string]ddbTypes.AttributeValue) error {
		var it poolItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return wrap(err)
		}
		*out = append(*out, it.PoolState)
		return nil
	}
}

func (s *StateStore) LoadPoolShop(ctx context.Context, shop string) ([]types.PoolState, error) {
	var out []types.PoolState
	err := s.query(ctx, pkPool(shop), STrade+"#", s.collectPools(&out))
	return out, err
}

func (s *StateStore) SavePoolStates(ctx context.Context, states []types.PoolState) error {
	items := make([]ddbTypes.TransactWriteItem, 0, len(states))
	for _, st := range states {
		w, err := s.put(poolItem{PK: pkPool(st.Shop), SK: skPoolTrade(st.Trade), PoolState: st})
		if err != nil {
			return err
		}
		items = append(items, w)
	}
	return s.transact(ctx, items)
}

func (s *StateStore) DeletePoolState(ctx context.Context, id types.PoolTradeID) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       keyOf(pkPool(id.Shop), skPoolTrade(id.Trade)),
	})
	return wrap(err)
}

func (s *StateStore) DeletePoolShop(ctx context.Context, shop string) error {
	states, err := s.LoadPoolShop(ctx, shop)
	if err != nil {
		return err
	}
	items := make([]ddbTypes.TransactWriteItem, 0, len(states))
	for _, st := range states {
		items = append(items, s.del(pkPool(st.Shop), skPoolTrade(st.Trade)))
	}
	return s.transact(ctx, items)
}

func (s *StateStore) ScanTradeStates(ctx context.Context, fn func(types.TradeState) error) error {
	return s.scan(ctx, SActor+"#", "", nil, func(item map[string]ddbTypes.AttributeValue) error {
		var it tradeItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return wrap(err)
		}
		return fn(it.TradeState)
	})
}

func (s *StateStore) ScanPoolStates(ctx context.Context, fn func(types.PoolState) error) error {
	return s.scan(ctx, SPool+"#", "", nil, func(item map[string]ddbTypes.AttributeValue) error {
		var it poolItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return wrap(err)
		}
		return fn(it.PoolState)
	})
}
