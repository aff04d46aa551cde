package adapter

import (
	"fmt"
	"sort"

	"TrendRadar/internal/config"
	"TrendRadar/internal/interfaces"
	"TrendRadar/internal/model"

	"github.com/sirupsen/logrus"
)

// SourceRegistry 信号源实例注册表：源名→适配器实例
type SourceRegistry struct {
	cfg      *config.Config
	logger   *logrus.Logger
	adapters map[string]interfaces.SourceAdapter
}

func NewSourceRegistry(cfg *config.Config, logger *logrus.Logger) *SourceRegistry {
	r := &SourceRegistry{
		cfg:      cfg,
		logger:   logger,
		adapters: make(map[string]interfaces.SourceAdapter),
	}
	r.initAdaptersFromFactories()
	return r
}

// initAdaptersFromFactories 从工厂函数注册表初始化适配器实例
func (r *SourceRegistry) initAdaptersFromFactories() {
	for sourceName := range r.cfg.Sources {
		sourceCfg := r.cfg.Sources[sourceName]
		factory, ok := GetFactory(sourceName)
		if !ok {
			r.logger.WithField("source", sourceName).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}

		adapterIns := factory(sourceName, &sourceCfg, r.logger)
		if adapterIns == nil {
			r.logger.WithField("source", sourceName).Error("工厂函数返回nil适配器实例")
			continue
		}

		// 验证实例的源名是否匹配
		if adapterIns.GetName() != sourceName {
			r.logger.WithFields(logrus.Fields{
				"config_source":  sourceName,
				"adapter_source": adapterIns.GetName(),
			}).Error("适配器源名与配置不匹配")
			continue
		}

		r.adapters[sourceName] = adapterIns
		r.logger.WithField("source", sourceName).Info("适配器实例初始化成功并加入注册表")
	}

	r.logger.WithField("instance_sources", len(r.adapters)).Info("最终初始化的适配器实例数量")
}

// GetAdapter 获取适配器实例
func (r *SourceRegistry) GetAdapter(source string) (interfaces.SourceAdapter, error) {
	adapterIns, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("信号源%s未初始化适配器实例（已初始化：%v）", source, r.ListRegisteredSources())
	}
	return adapterIns, nil
}

// ListRegisteredSources 获取所有已注册并初始化的源名列表（排序后稳定）
func (r *SourceRegistry) ListRegisteredSources() []string {
	var sources []string
	for s := range r.adapters {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// DistinctEnabledTypes 统计启用信号源覆盖的类型数（平台覆盖分量的分母）
func (r *SourceRegistry) DistinctEnabledTypes() int {
	types := make(map[model.SourceType]struct{})
	for name, a := range r.adapters {
		if cfg, ok := r.cfg.Sources[name]; ok && cfg.Enabled {
			types[a.GetType()] = struct{}{}
		}
	}
	return len(types)
}

// SourcesOfType 某类型下已注册且启用的源名列表（排序后稳定）
func (r *SourceRegistry) SourcesOfType(t model.SourceType) []string {
	var out []string
	for name, a := range r.adapters {
		if a.GetType() != t {
			continue
		}
		if cfg, ok := r.cfg.Sources[name]; ok && cfg.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TypeOf 查询已注册源的类型
func (r *SourceRegistry) TypeOf(source string) (model.SourceType, bool) {
	a, ok := r.adapters[source]
	if !ok {
		return "", false
	}
	return a.GetType(), true
}
