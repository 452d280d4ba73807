package strategy

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Build 按名字构造策略变体，params 来自策略档案文件（已过 schema 校验）。
func Build(name string, params map[string]any) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "trend_following":
		var cfg TrendFollowingConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewTrendFollowing(cfg), nil
	case "range_bound":
		var cfg RangeBoundConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewRangeBound(cfg), nil
	case "market_making":
		var cfg MarketMakingConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewMarketMaking(cfg), nil
	default:
		return nil, fmt.Errorf("strategy: 未知变体 %q", name)
	}
}

func decodeParams(params map[string]any, target any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("strategy: 参数解码失败: %w", err)
	}
	return nil
}
