// Package app provides the application composition layer for Git City.
//
// # Architecture Role
//
// The app package composes the domain services into a running application. It
// is NOT a business logic layer - business logic belongs in the service
// packages under internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── developer/      # Developers, sessions, referral codes
//	│   ├── building/       # Buildings, stats, plot geometry
//	│   ├── shop/           # Items, purchases, payment providers
//	│   ├── raid/           # Raids, graffiti tags, leaderboard entries
//	│   └── ...             # Other domain models
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (DeveloperStore, RaidStore, etc.)
//	│   ├── memory/         # In-memory implementation for testing
//	│   ├── postgres/       # PostgreSQL implementation for production
//	│   └── redis/          # Snapshot cache and weekly leaderboard
//	├── services/           # Business logic (city, shop, raids, social, ...)
//	├── httpapi/            # HTTP API handlers and routing
//	├── auth/               # Session tokens and OAuth state signing
//	├── system/             # Lifecycle management for background services
//	└── metrics/            # Application metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining the storage interfaces services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (auth, metrics, system status)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/cityserver/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      └──► internal/app/storage/{memory,postgres,redis} (drivers)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "parks"):
//
//  1. Create domain models in internal/app/domain/park/
//  2. Add a storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create the service in internal/app/services/parks/service.go
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
