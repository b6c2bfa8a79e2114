package database

import "realtor/ingest/internal/models"

// ReplaceThreshold is how much better an incoming record must score before
// it replaces the stored one. It is a policy constant, not a domain law.
const ReplaceThreshold = 1.1

// ShouldReplace reports whether incoming supersedes existing.
func ShouldReplace(existing, incoming models.PropertyRecord) bool {
	return incoming.Score() > existing.Score()*ReplaceThreshold
}
