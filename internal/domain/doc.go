// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (identity, trust, events) and contracts only, so the
// crypto, wire, handshake, hosts and peer layers can share a vocabulary without
// import cycles.
package domain
