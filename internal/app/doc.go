// Package app composes the ledger: it wires the store into the account,
// wallet, stats and emission services and owns their lifecycle.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Pure data: ledger accounts and transactions, protocol state and blocks
//	├── storage/            # LedgerStore interfaces, memory/ and sqlstore/ implementations
//	├── services/           # accounts, wallets, stats, emission
//	├── events/             # Kafka block publisher
//	├── httpapi/            # /v1 REST API
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service interface and lifecycle manager
//
// # Dependency Direction
//
//	cmd/karmad ──► internal/cli ──► internal/app ──► services ──► storage ──► domain
//
// Services never import httpapi, and domain packages import nothing from the
// rest of the tree.
package app
