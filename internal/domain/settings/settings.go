// Package settings defines the domain types for persisted application settings.
package settings

import (
	"encoding/json"
	"time"
)

// KeyDeliveryDefaults stores the default chat destination for manual posts.
const KeyDeliveryDefaults = "delivery_defaults"

// Setting represents a key-value configuration setting.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DeliveryDefaults is the destination used when a post request names none.
type DeliveryDefaults struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
}

// Complete reports whether both identifiers are present.
func (d DeliveryDefaults) Complete() bool {
	return d.TeamID != "" && d.ChannelID != ""
}
