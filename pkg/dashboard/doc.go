// Package dashboard builds the cross-app admin overview.
//
// Three source adapters report usage for the known apps: LocalSource reads
// the primary Postgres store, FileSource a read-only SQLite file, and
// URLSource any store reachable through a connection URL. An adapter never
// returns an error. Anything that goes wrong becomes a disconnected
// MetricsSnapshot whose State says whether the source was never configured
// or is currently unavailable.
//
// The Aggregator gates on the caller's role, fans the adapters and the
// TrendBuilder out in parallel with a per-source timeout, and merges the
// results with the app Registry:
//
//	agg := dashboard.NewAggregator(dashboard.AggregatorConfig{
//		Registry: registry,
//		Apps:     appStore,
//		Sources:  sources,
//		Trend:    dashboard.NewTrendBuilderFromPool(conns.Replica, logger),
//	})
//	overview, err := agg.BuildOverview(ctx, 14, user)
//
// AccountSync links accounts in the LAMMP file store to platform users by
// email.
package dashboard
