// Package storage persists dedup windows so duplicate suppression survives
// restarts. It stores nothing else: normalized events are not retained.
package storage
