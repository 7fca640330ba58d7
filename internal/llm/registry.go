package llm

import (
	"sort"
	"sync"
)

var (
	catalog   = make(map[string][]string)
	catalogMu sync.RWMutex
)

// Register 登记 provider 名称及其支持的模型，第一个模型为默认模型
func Register(name string, models ...string) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[name] = append([]string(nil), models...)
}

// IsKnown 是否为已登记的 provider
func IsKnown(name string) bool {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	_, ok := catalog[name]
	return ok
}

// SupportedModels 返回 provider 支持的模型；未知 provider 返回空
func SupportedModels(name string) []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return append([]string(nil), catalog[name]...)
}

// DefaultModel 返回 provider 的默认模型
func DefaultModel(name string) string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	if models := catalog[name]; len(models) > 0 {
		return models[0]
	}
	return ""
}

// Providers 列出所有已登记的 provider 名称（有序）
func Providers() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
