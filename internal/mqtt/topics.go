package mqtt

import (
	"fmt"
	"strings"
)

// AvailabilityTopic is the retained online/offline topic of a bridge instance.
func AvailabilityTopic(bridgeID string) string {
	return BuildCleanTopic(BaseTopic, bridgeID, "availability")
}

// DeviceStateTopic carries the JSON state of one Traccar device.
func DeviceStateTopic(deviceID int64) string {
	return BuildCleanTopic(BaseTopic, fmt.Sprintf("device_%d", deviceID), "state")
}

// DiscoveryTopic returns the Home Assistant discovery topic for one entity.
func DiscoveryTopic(prefix, entityType string, deviceID int64, entityID string) string {
	return fmt.Sprintf("%s/%s/fueltrim_%d/%s/config", prefix, entityType, deviceID, entityID)
}

// HAStatusTopic is where Home Assistant announces "online" after it starts.
func HAStatusTopic(discoveryPrefix string) string {
	return discoveryPrefix + "/status"
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
