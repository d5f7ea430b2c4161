package supervisor

import "github.com/elkhorn-labs/dnsward/internal/store"

// defaultCacheRegistry lists the cache driver backends a fresh Supervisor
// can select from by name (config.DriverConfig.Name).
func defaultCacheRegistry() *store.Registry[store.CacheDriver] {
	r := store.NewRegistry[store.CacheDriver]()
	r.Register("memory", store.NewMemoryCacheDriver)
	r.Register("file", store.NewFileCacheDriver)
	r.Register("sql", store.NewSQLCacheDriver)
	return r
}

// defaultPolicyRegistry lists the policy driver backends shared by the
// denylist and allowlist roles.
func defaultPolicyRegistry() *store.Registry[store.PolicyDriver] {
	r := store.NewRegistry[store.PolicyDriver]()
	r.Register("memory", store.NewMemoryPolicyDriver)
	r.Register("file", store.NewFilePolicyDriver)
	r.Register("sql", store.NewSQLPolicyDriver)
	return r
}

// defaultLogsRegistry lists the logs driver backends.
func defaultLogsRegistry() *store.Registry[store.LogsDriver] {
	r := store.NewRegistry[store.LogsDriver]()
	r.Register("memory", store.NewMemoryLogsDriver)
	r.Register("file", store.NewFileLogsDriver)
	r.Register("sql", store.NewSQLLogsDriver)
	r.Register("console", store.NewConsoleLogsDriver)
	return r
}
