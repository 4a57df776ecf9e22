package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"search-agent/handler"
	appconfig "search-agent/internal/config"
	"search-agent/internal/gateway"
	"search-agent/internal/integrations/credentials"
	"search-agent/internal/integrations/gemini"
	"search-agent/internal/integrations/paramstore"
	"search-agent/internal/integrations/websearch"
	"search-agent/internal/repository"
	"search-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := appconfig.LoadLambda()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	creds, err := credentials.NewResolver(ssmClient, cfg.ParamPrefix)
	if err != nil {
		slog.Error("failed to create credential resolver", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	gw := gateway.New(gateway.WithLogger(logger))
	model, err := gemini.NewClient(gw, creds,
		gemini.WithBaseURL(cfg.GeminiBaseURL),
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithBudget(cfg.ModelBudget()),
	)
	if err != nil {
		slog.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}
	search, err := websearch.NewClient(gw, creds,
		websearch.WithBaseURL(cfg.SearchBaseURL),
		websearch.WithResultCount(cfg.SearchResultCount),
		websearch.WithBudget(cfg.SearchBudget()),
	)
	if err != nil {
		slog.Error("failed to create search client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	searchService, err := usecase.NewSearchService(model, search, store,
		usecase.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create search service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(searchService,
		handler.WithLogger(logger),
		handler.WithMaxQueryLength(cfg.MaxQueryLength),
	)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
