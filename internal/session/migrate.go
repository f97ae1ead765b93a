package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errFutureVersion = errors.New("session schema is newer than supported")

// migrations[v] upgrades a version v document to v+1. Upgrades only add
// defaults for members the older schema did not have.
var migrations = map[int]func(doc map[string]any){
	1: func(doc map[string]any) {
		c := contextDoc(doc)
		setDefault(c, "inventoryItems", []any{})
		setDefault(c, "qualifyingAnswers", map[string]any{})
		setDefault(doc, "createdAt", doc["lastUpdated"])
	},
	2: func(doc map[string]any) {
		c := contextDoc(doc)
		setDefault(c, "errorCount", 0)
		setDefault(c, "stageStartTime", doc["lastUpdated"])
		if v, ok := c["visitorId"]; ok {
			setDefault(doc, "visitorId", v)
		}
	},
}

// decode upgrades raw to the current schema. A snapshot that predates
// expiresAt gets one ttl after its creation.
func decode(raw []byte, ttl time.Duration) (*SavedSession, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	version := 1
	if v, ok := doc["version"].(float64); ok {
		version = int(v)
	}
	if version > CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", errFutureVersion, version)
	}
	for ; version < CurrentVersion; version++ {
		if m, ok := migrations[version]; ok {
			m(doc)
		}
	}
	doc["version"] = CurrentVersion

	upgraded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var saved SavedSession
	if err := json.Unmarshal(upgraded, &saved); err != nil {
		return nil, err
	}
	if saved.ExpiresAt.IsZero() && !saved.CreatedAt.IsZero() {
		saved.ExpiresAt = saved.CreatedAt.Add(ttl)
	}
	return &saved, nil
}

func contextDoc(doc map[string]any) map[string]any {
	c, ok := doc["context"].(map[string]any)
	if !ok {
		c = map[string]any{}
		doc["context"] = c
	}
	return c
}

func setDefault(m map[string]any, k string, v any) {
	if _, ok := m[k]; !ok && v != nil {
		m[k] = v
	}
}
