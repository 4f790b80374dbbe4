// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The Indexer owns document state and every storage write; parsers,
// chunkers, OCR and embedders only compute. The SearchService fuses
// semantic and keyword retrieval. The EventBus fans pipeline events out
// to subscribers and the Scheduler runs periodic syncs.
package services
