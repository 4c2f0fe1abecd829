package ddb

import (
	"context"
	"errors"
	"time"

	"stockcontrol/internal/types"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SActor = "ACTOR"
	SPool  = "POOL"
	STrade = "TRADE"

	// TransactWriteItems accepts at most 100 actions.
	maxTransactItems = 100
)

func pkActor(actor string) string            { return SActor + "#" + actor }
func pkPool(shop string) string              { return SPool + "#" + shop }
func skActorTrade(shop, trade string) string { return STrade + "#" + shop + "#" + trade }
func skActorShop(shop string) string         { return STrade + "#" + shop + "#" }
func skPoolTrade(trade string) string        { return STrade + "#" + trade }

func createTableIfNotExists(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		return types.Err(types.ErrDataStoreAccess, err, "create table %s", table)
	}
	if err == nil {
		log.WithField("table", table).Info("created state table")
	}
	err = dynamodb.NewTableExistsWaiter(client).Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: &table,
	}, 2*time.Minute)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "wait for table %s", table)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
