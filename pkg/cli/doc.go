// Package cli implements the repostats command line.
//
// # Commands
//
// index: run the pipeline once, either every stage or a single one
//
//	repostats index -config /etc/repostats.yaml
//	repostats index -config /etc/repostats.yaml -stage collection
//
// db: manage the statistics tables
//
//	repostats db -config /etc/repostats.yaml -function create
//	repostats db -config /etc/repostats.yaml -function check
//	repostats db -config /etc/repostats.yaml -function recreate
//
// schedule: run the pipeline on a cron schedule, serving /metrics, /healthz
// and /readyz on metrics.listen. The config file is watched and reloaded
// between runs.
//
//	repostats schedule -config /etc/repostats.yaml
//	repostats schedule -config /etc/repostats.yaml -run-once
//
// Configuration errors and an unreachable database are the only failures
// that make a command return an error. Stage failures are logged and the
// remaining stages still run.
package cli
