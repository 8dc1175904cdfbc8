package service

import (
	"context"
	"time"

	"flow/internal/workflow"
	"flow/pkg"

	"github.com/rs/zerolog"
)

const adapterAssetsKey = "assets:" + workflow.AdapterType

// AssetLister fetches the adapter files the upstream can load.
type AssetLister interface {
	ListAdapterAssets(ctx context.Context) ([]string, error)
}

// AssetService serves the adapter asset list, cached in Redis when a cache is configured.
type AssetService struct {
	lister AssetLister
	cache  *pkg.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAssetService accepts a nil cache, in which case every call goes to the upstream.
func NewAssetService(lister AssetLister, cache *pkg.Cache, ttl time.Duration, logger zerolog.Logger) *AssetService {
	return &AssetService{lister: lister, cache: cache, ttl: ttl, logger: logger}
}

// AdapterAssets returns the asset names, bypassing the cache when refresh is set.
func (slf *AssetService) AdapterAssets(ctx context.Context, refresh bool) ([]string, error) {
	if slf.cache != nil && !refresh {
		var cached []string
		err := slf.cache.Get(ctx, adapterAssetsKey, &cached)
		switch {
		case err == nil:
			return cached, nil
		case !pkg.IsRedisNil(err):
			slf.logger.Warn().Err(err).Msg("Asset cache unavailable, asking upstream")
		}
	}

	assets, err := slf.lister.ListAdapterAssets(ctx)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error listing adapter assets")
		return nil, err
	}
	if assets == nil {
		assets = []string{}
	}

	if slf.cache != nil {
		if err := slf.cache.Set(ctx, adapterAssetsKey, assets, slf.ttl); err != nil {
			slf.logger.Warn().Err(err).Msg("Error caching adapter assets")
		}
	}
	return assets, nil
}
