package config

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/events"
	"github.com/citydata/tripline/internal/extractor"
	"github.com/citydata/tripline/internal/loader"
	"github.com/citydata/tripline/internal/orchestrator"
	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/s3"
	"github.com/citydata/tripline/internal/warehouse"
)

// Components is the fully wired set of components behind one configuration,
// plus the handles the caller needs to shut them down.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	Warehouse    *warehouse.Client
	Publisher    *events.Publisher
}

func (c *Components) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.Warehouse != nil {
		c.Warehouse.Close()
	}
}

// InitializeOrchestrator wires every component from configuration. The
// staging repository and event publisher are optional; everything else is
// required.
func InitializeOrchestrator(ctx context.Context, tripline *Tripline, logger *zap.Logger) (*Components, error) {
	if err := tripline.Validate(); err != nil {
		return nil, err
	}

	catalogOpts := []catalog.Option{}
	if tripline.Source.BaseURL != "" {
		catalogOpts = append(catalogOpts, catalog.WithBaseURL(tripline.Source.BaseURL))
	}
	if len(tripline.Source.Categories) > 0 {
		catalogOpts = append(catalogOpts, catalog.WithCategories(tripline.Source.Categories))
	}
	cat := catalog.New(catalogOpts...)

	extractorOpts := []extractor.Option{
		extractor.WithLogger(logger),
	}
	if tripline.Source.MaxRetries > 0 {
		extractorOpts = append(extractorOpts, extractor.WithMaxRetries(tripline.Source.MaxRetries))
	}
	ext, err := extractor.New(tripline.Source.DataDir, extractorOpts...)
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.New(ctx, tripline.Warehouse.ConnectionString,
		warehouse.WithLogger(logger),
		warehouse.WithRegion(tripline.Warehouse.Region),
	)
	if err != nil {
		return nil, err
	}

	loaderOpts := []loader.Option{
		loader.WithLogger(logger),
		loader.WithWarehouse(wh),
	}
	healthChecks := map[string]func(context.Context) error{
		"config":    func(context.Context) error { return tripline.Validate() },
		"warehouse": wh.Ping,
	}

	if tripline.Staging.Enabled {
		stage, err := s3.New(
			s3.WithLogger(logger),
			s3.WithBucket(tripline.Staging.Bucket),
			s3.WithRegion(tripline.Staging.Region),
			s3.WithPrefix(tripline.Staging.Prefix),
			s3.WithEndpoint(tripline.Staging.Endpoint),
			s3.WithForcePathStyle(tripline.Staging.ForcePathStyle),
		)
		if err != nil {
			wh.Close()
			return nil, err
		}
		loaderOpts = append(loaderOpts,
			loader.WithStage(stage),
			loader.WithStageBucket(tripline.Staging.Bucket),
		)
		healthChecks["staging"] = stage.HeadBucket
	}

	orchestratorOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithCatalog(cat),
		orchestrator.WithExtractor(ext),
		orchestrator.WithLoader(loader.New(loaderOpts...)),
		orchestrator.WithHealthChecks(healthChecks),
	}
	if tripline.Pipeline.Workers > 0 {
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithWorkers(tripline.Pipeline.Workers))
	}
	if tripline.Pipeline.BatchSize > 0 {
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithBatchSize(tripline.Pipeline.BatchSize))
	}

	components := &Components{Warehouse: wh}

	if tripline.Events.URI != "" {
		uri, err := url.Parse(tripline.Events.URI)
		if err != nil {
			wh.Close()
			return nil, pipeline.ConfigurationError("invalid events uri: %v", err)
		}
		publisher, err := events.NewPublisher(uri, logger)
		if err != nil {
			wh.Close()
			return nil, err
		}
		if err := publisher.Connect(ctx); err != nil {
			wh.Close()
			return nil, err
		}
		components.Publisher = publisher
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithPublisher(publisher))
	}

	components.Orchestrator = orchestrator.New(orchestratorOpts...)
	return components, nil
}
