package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/config"
	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/policy"
	"github.com/openfroyo/vpcforge/pkg/provider"
	ec2provider "github.com/openfroyo/vpcforge/pkg/provider/ec2"
	"github.com/openfroyo/vpcforge/pkg/records"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// runtime holds everything a command needs, built from the configuration.
type runtime struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	aws    aws.Config
	store  records.Store
	policy *policy.Engine
	engine *engine.Engine
}

// loadConfig reads the configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = buildVersion
	}
	return cfg, nil
}

// newRuntime wires store, provider, policies and engine. SQLite stores are
// migrated on open; DynamoDB tables are managed by the migrate command.
func newRuntime(ctx context.Context) (*runtime, error) {
	rt, err := newBaseRuntime(ctx)
	if err != nil {
		return nil, err
	}

	if rt.cfg.Store.Driver == config.DriverSQLite {
		if err := rt.store.Migrate(ctx); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to migrate record store: %w", err)
		}
	}

	if err := rt.initEngine(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// newBaseRuntime loads configuration, telemetry, AWS settings and the
// record store.
func newBaseRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt := &runtime{cfg: cfg, tel: tel}

	rt.aws, err = loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.store, err = openStore(ctx, cfg.Store, rt.aws, cfg.AWS.Endpoint)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) initEngine(ctx context.Context) error {
	cfg := rt.cfg

	pol, err := newPolicyEngine(ctx, cfg, rt.tel)
	if err != nil {
		return err
	}
	rt.policy = pol

	alloc, err := addressing.New(cfg.Addressing)
	if err != nil {
		return fmt.Errorf("failed to create address allocator: %w", err)
	}

	client := awsec2.NewFromConfig(rt.aws, func(o *awsec2.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	var prov provider.Provider = ec2provider.New(client)
	prov = provider.NewRateLimited(prov, cfg.RateLimit)
	prov = provider.NewInstrumented(prov, rt.tel)

	rt.engine, err = engine.New(cfg.Engine, engine.Deps{
		Store:     rt.store,
		Provider:  prov,
		Allocator: alloc,
		Policy:    pol,
		Telemetry: rt.tel,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	return nil
}

func newPolicyEngine(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*policy.Engine, error) {
	pol, err := policy.NewEngine(
		tel.Logger.NewComponentLogger("policy").Zerolog(),
		policy.WithEnvironment(cfg.Telemetry.Environment),
		policy.WithAllowedRegions(cfg.Policy.AllowedRegions...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if len(cfg.Policy.Paths) > 0 {
		if err := pol.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	for _, name := range cfg.Policy.Disabled {
		if err := pol.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("invalid policy.disabled entry: %w", err)
		}
	}
	return pol, nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return awsCfg, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, awsCfg aws.Config, awsEndpoint string) (records.Store, error) {
	var (
		store records.Store
		err   error
	)

	switch cfg.Driver {
	case config.DriverSQLite:
		store, err = records.NewSQLiteStore(cfg.SQLite)
	case config.DriverDynamoDB:
		endpoint := cfg.DynamoDB.Endpoint
		if endpoint == "" {
			endpoint = awsEndpoint
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Region != "" {
				o.Region = cfg.DynamoDB.Region
			}
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		store, err = records.NewDynamoDBStore(client, cfg.DynamoDB)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	return store, nil
}

// Close releases the store and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.tel != nil {
		errs = append(errs, rt.tel.Shutdown(context.WithoutCancel(ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		rt.tel.Logger.WithError(err).Warn("failed to shut down cleanly")
	}
}
