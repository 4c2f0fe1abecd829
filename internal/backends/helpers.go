package backends

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"

	"stockcontrol/internal/backends/ddb"
	"stockcontrol/internal/backends/kv"
	"stockcontrol/internal/backends/sqlite"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/pub"
	"stockcontrol/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redisbackend "stockcontrol/internal/backends/redis"
)

const (
	StateBackendEnvKey = "STATE_BACKEND"
	BackendSQLite      = "sqlite"
	BackendBadger      = "badger"
	BackendLevelDB     = "leveldb"
	BackendDDB         = "ddb"
	BackendRedis       = "redis"

	SQLitePathKey = "SQLITE_PATH"
	KVPathKey     = "KV_PATH"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"

	RedisHost  = "REDIS_HOST"
	RedisPort  = "REDIS_PORT"
	RedisUser  = "REDIS_USER"
	RedisPass  = "REDIS_PASS"
	RedisTLS   = "REDIS_SSL"
	RedisDBNum = "REDIS_DB_NUM"

	PushBackendEnvKey = "PUSH_BACKEND"
	PushSNSTopicKey   = "PUSH_SNS_TOPIC_ARN"
	SNSEndpointKey    = "SNS_ENDPOINT"
	PushLog           = "log"
	PushSNS           = "sns"
	PushRedis         = "redis"
)

const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// StoreFromEnv constructs the State Store named by STATE_BACKEND. Supported backends are
// "sqlite" (the default), "badger", "leveldb", "ddb" and "redis". Each reads its own env vars.
func StoreFromEnv(ctx context.Context) (ports.StateStore, error) {
	backend := getenv(StateBackendEnvKey, BackendSQLite)
	log.WithField("backend", backend).Info("opening state store")
	switch backend {
	case BackendSQLite:
		store, err := sqlite.Open(getenv(SQLitePathKey, "stockcontrol.db"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendBadger, BackendLevelDB:
		store, err := kv.Open(backend, getenv(KVPathKey, "stockcontrol-"+backend))
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendRedis:
		redisClient, err := redisClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return redisbackend.NewStateStore(redisClient), nil
	case BackendDDB:
		ddbClient, err := ddbClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		store, err := ddb.NewStateStore(ctx, getenv(DDBTableKey, "stock_control"), ddbClient)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "unknown %s %q", StateBackendEnvKey, backend)
	}
}

// PusherFromEnv constructs the display pusher named by PUSH_BACKEND: "log" (the default),
// "sns" (publishes to PUSH_SNS_TOPIC_ARN) or "redis" (pub/sub, same connection env as the store).
func PusherFromEnv(ctx context.Context) (ports.DisplayPusher, error) {
	backend := getenv(PushBackendEnvKey, PushLog)
	switch backend {
	case PushLog:
		return pub.LogPusher{}, nil
	case PushSNS:
		topic := os.Getenv(PushSNSTopicKey)
		if topic == "" {
			return nil, types.Err(types.ErrInvalidBackend, nil, "%s is required for the sns pusher", PushSNSTopicKey)
		}
		snsClient, err := snsClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return pub.NewSNS(snsClient, topic), nil
	case PushRedis:
		redisClient, err := redisClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return pub.NewRedis(redisClient), nil
	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "unknown %s %q", PushBackendEnvKey, backend)
	}
}

// ddbClientFromEnv creates a DynamoDB client. DDB_ENDPOINT points it at a local mock with static credentials.
func ddbClientFromEnv(ctx context.Context) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, types.Err(types.ErrInvalidBackend, err, "load aws config")
	}
	endpoint := os.Getenv(DDBEndpointKey)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.Region = getenv("AWS_REGION", "us-east-1")
		o.Credentials = credentials.NewStaticCredentialsProvider(
			getenv("AWS_ACCESS_KEY_ID", "x"),
			getenv("AWS_SECRET_ACCESS_KEY", "x"),
			"",
		)
	}), nil
}

// snsClientFromEnv creates an SNS client. SNS_ENDPOINT points it at a local mock.
func snsClientFromEnv(ctx context.Context) (*sns.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, types.Err(types.ErrInvalidBackend, err, "load aws config")
	}
	endpoint := os.Getenv(SNSEndpointKey)
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		if o.Region == "" {
			o.Region = "us-east-1"
		}
		o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
	}), nil
}

// redisClientFromEnv creates a Redis client from environment variables, if any.
func redisClientFromEnv(ctx context.Context) (*redis.Client, error) {
	host := getenv(RedisHost, "localhost")
	port := getenv(RedisPort, "6379")
	user := os.Getenv(RedisUser)
	pass := os.Getenv(RedisPass)
	tlsEnabled := parseBoolean(getenv(RedisTLS, "false"))
	dbNumStr := getenv(RedisDBNum, "0")
	dbNum, err := strconv.Atoi(dbNumStr)
	if err != nil {
		return nil, types.Err(types.ErrInvalidBackend, err, "invalid %s", RedisDBNum)
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	redisConfig := redis.Options{
		Addr:      fmt.Sprintf("%s:%s", host, port),
		Username:  user,
		Password:  pass,
		DB:        dbNum,
		TLSConfig: tlsConfig,
	}
	redisClient := redis.NewClient(&redisConfig)
	_, err = redisClient.Ping(ctx).Result()
	if err != nil {
		_ = redisClient.Close()
		return nil, types.Err(types.ErrDataStoreAccess, err, "ping redis at %s", redisConfig.Addr)
	}
	return redisClient, nil
}

// getenv retrieves the value of the environment variable named by the key.
func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func parseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
