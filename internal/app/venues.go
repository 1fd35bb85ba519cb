package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trade-router/internal/config"
	"trade-router/internal/exchange"
	"trade-router/internal/execution"
	"trade-router/internal/venue"
)

// buildRegistry 为每个启用的场所注册沙盒与实盘两套适配器，未配置沙盒地址的场所只注册实盘。
func buildRegistry(cfg config.VenuesConfig, observer venue.Observer, logger *zap.Logger) (*execution.Registry, error) {
	registry := execution.NewRegistry()
	var opts []venue.TransportOption
	if observer != nil {
		opts = append(opts, venue.WithObserver(observer))
	}

	register := func(env execution.Environment, adapter execution.Adapter) error {
		if err := registry.Register(env, adapter); err != nil {
			return err
		}
		logger.Info("注册执行场所",
			zap.String("broker", adapter.Name()),
			zap.String("venue", adapter.Venue()),
			zap.String("env", string(env)),
		)
		return nil
	}

	if spot := cfg.Spot; spot.Enabled {
		live := venue.NewSpotClient(spot, spot.BaseURL, logger, opts...)
		if err := register(execution.EnvLive, execution.NewSpotAdapter(spot.Name, spot.Name, live)); err != nil {
			return nil, err
		}
		if spot.SandboxBaseURL != "" {
			sandbox := venue.NewSpotClient(spot, spot.SandboxBaseURL, logger, opts...)
			if err := register(execution.EnvSandbox, execution.NewSpotAdapter(spot.Name, spot.Name, sandbox)); err != nil {
				return nil, err
			}
		} else {
			logger.Warn("现货场所未配置沙盒地址，沙盒模式不可用", zap.String("broker", spot.Name))
		}
	}

	if gw := cfg.Gateway; gw.Enabled {
		live := venue.NewGatewayClient(gw, gw.BaseURL, logger, opts...)
		if err := register(execution.EnvLive, execution.NewGatewayAdapter(gw.Name, gw.Name, live)); err != nil {
			return nil, err
		}
		if gw.SandboxBaseURL != "" {
			sandbox := venue.NewGatewayClient(gw, gw.SandboxBaseURL, logger, opts...)
			if err := register(execution.EnvSandbox, execution.NewGatewayAdapter(gw.Name, gw.Name, sandbox)); err != nil {
				return nil, err
			}
		} else {
			logger.Warn("网关场所未配置沙盒地址，沙盒模式不可用", zap.String("broker", gw.Name))
		}
	}

	if cx := cfg.CCXT; cx.Enabled {
		for _, env := range []execution.Environment{execution.EnvLive, execution.EnvSandbox} {
			client, err := exchange.NewClient(cx, env == execution.EnvSandbox, logger, observer)
			if err != nil {
				return nil, fmt.Errorf("初始化 ccxt 客户端失败 (%s): %w", env, err)
			}
			if err := register(env, execution.NewCCXTAdapter(cx.Name, cx.Exchange, client)); err != nil {
				return nil, err
			}
		}
	}

	if paper := cfg.Paper; paper.Enabled {
		adapter := execution.NewPaperAdapter(paper.Name)
		for _, env := range []execution.Environment{execution.EnvLive, execution.EnvSandbox} {
			if err := register(env, adapter); err != nil {
				return nil, err
			}
		}
	}

	if len(registry.Brokers()) == 0 {
		return nil, errors.New("没有可用的执行场所")
	}
	return registry, nil
}
