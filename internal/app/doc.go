// Package app composes the compensation engine into a running application.
// It wires services from internal/app/services with their stores, owns the
// lifecycle manager, and exposes nothing but assembled services; business
// logic lives in the service packages.
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── member/         # Participant identity
//	│   ├── matrix/         # Trees, seats and snapshots
//	│   ├── activation/     # Slot funding records
//	│   └── commission/     # Payout records and mentorship links
//	├── storage/            # Store interfaces plus memory and postgres backends
//	├── services/           # Placement, recycle, upgrade, commission, hooks
//	├── httpapi/            # REST handlers and request middleware
//	├── system/             # Lifecycle manager for background services
//	└── metrics/            # Prometheus collectors
package app
