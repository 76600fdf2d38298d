package main

import (
	"context"
	"fmt"

	"github.com/cladams7905/zencourt-sub009/internal/dispatch"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/infra/credentials"
	"github.com/cladams7905/zencourt-sub009/internal/providers/genai"
	"github.com/cladams7905/zencourt-sub009/internal/providers/qwen"
	"github.com/cladams7905/zencourt-sub009/internal/providers/video"
)

// buildChains creates one strategy per provider named in the configured
// chains. Keys missing from the environment are read from the credential store.
func buildChains(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger *infra.Logger) (dispatch.Chains, error) {
	callback := video.CallbackURL(cfg.PublicBaseURL)
	built := make(map[string]video.Strategy)

	strategy := func(name string) (video.Strategy, error) {
		if s, ok := built[name]; ok {
			return s, nil
		}
		var s video.Strategy
		switch name {
		case video.ProviderVeo:
			key, err := creds.Resolve(ctx, credentials.ProviderVeo, cfg.GeminiAPIKey)
			if err != nil {
				return nil, fmt.Errorf("resolve veo key: %w", err)
			}
			client, err := genai.NewClient(genai.Options{
				APIKey:  key,
				BaseURL: cfg.GeminiBaseURL,
				Model:   cfg.VeoModel,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			if !client.HasCredentials() {
				logger.Warn().Str("provider", name).Msg("no api key, provider will decline every job")
			}
			s = video.NewVeoStrategy(client, callback)
		case video.ProviderWan:
			key, err := creds.Resolve(ctx, credentials.ProviderWan, cfg.DashScopeAPIKey)
			if err != nil {
				return nil, fmt.Errorf("resolve wan key: %w", err)
			}
			client, err := qwen.NewClient(qwen.Options{
				APIKey:   key,
				BaseURL:  cfg.DashScopeBaseURL,
				T2VModel: cfg.WanT2VModel,
				I2VModel: cfg.WanI2VModel,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			if !client.HasCredentials() {
				logger.Warn().Str("provider", name).Msg("no api key, provider will decline every job")
			}
			s = video.NewWanStrategy(client, callback)
		default:
			return nil, fmt.Errorf("unknown video provider %q", name)
		}
		built[name] = s
		return s, nil
	}

	var chains dispatch.Chains
	for _, name := range cfg.PrimaryChain {
		s, err := strategy(name)
		if err != nil {
			return chains, err
		}
		chains.Primary = append(chains.Primary, s)
	}
	for _, name := range cfg.FallbackChain {
		s, err := strategy(name)
		if err != nil {
			return chains, err
		}
		chains.Fallback = append(chains.Fallback, s)
	}
	return chains, nil
}
