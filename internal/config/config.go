// Package config declares the organizer daemon's recognized options
// (spec.md §6) as a jessevdk/go-flags struct, following the
// long/env/default/description tag convention every cmd/*/main.go in the
// teacher uses.
package config

// Config is the organizer daemon's full set of recognized options.
type Config struct {
	GRPCAddr string `long:"grpc-addr" env:"ORGANIZER_GRPC_ADDR" description:"grpc listen address" default:":9000"`
	HTTPAddr string `long:"http-addr" env:"ORGANIZER_HTTP_ADDR" description:"http (query/metrics) listen address" default:":9001"`

	BlockPoolCapacity   int  `long:"block-pool-capacity" env:"ORGANIZER_BLOCK_POOL_CAPACITY" description:"max pool entries kept above reorganization_limit" default:"10000"`
	ReorganizationLimit int  `long:"reorganization-limit" env:"ORGANIZER_REORGANIZATION_LIMIT" description:"maximum allowed depth of a reorganization" default:"1000"`
	Cores               int  `long:"cores" env:"ORGANIZER_CORES" description:"target priority-pool size (0 = GOMAXPROCS)" default:"0"`
	Priority            bool `long:"priority" env:"ORGANIZER_PRIORITY" description:"run the priority pool at elevated OS priority"`
	RelayTransactions   bool `long:"relay-transactions" env:"ORGANIZER_RELAY_TRANSACTIONS" description:"offer an accepted block's transactions to the transaction pool"`

	PowLimitBits uint32 `long:"pow-limit-bits" env:"ORGANIZER_POW_LIMIT_BITS" description:"compact-encoded network minimum-difficulty target" default:"486604799"`

	ClickHouseDSN string `long:"clickhouse-dsn" env:"ORGANIZER_CLICKHOUSE_DSN" description:"ClickHouse DSN backing the read-only history/stealth projection" default:"clickhouse://localhost:9000/default"`
}
