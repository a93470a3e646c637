package session

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device is the coarse device class of a user agent.
type Device string

const (
	DevicePC      Device = "pc"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceConsole Device = "console"
	DeviceOthers  Device = "others"
)

// Agent is the classification of a stored user-agent string.
type Agent struct {
	Device   Device
	Browser  string
	Platform string
}

var (
	consoleMarkers = []string{"playstation", "xbox", "nintendo", "wii"}
	tabletMarkers  = []string{"ipad", "tablet", "kindle", "silk/", "playbook"}
	otherMarkers   = []string{"smart-tv", "smarttv", "googletv", "appletv", "hbbtv", "roku", "crkey", "web0s", "tizen"}
)

// Classify sniffs a user-agent string. Strings that identify no particular
// device, empty ones included, are treated as a PC.
func Classify(ua string) Agent {
	parsed := useragent.New(ua)
	name, _ := parsed.Browser()
	agent := Agent{
		Browser:  name,
		Platform: parsed.OSInfo().Name,
		Device:   classifyDevice(ua, parsed),
	}
	return agent
}

func classifyDevice(raw string, parsed *useragent.UserAgent) Device {
	lower := strings.ToLower(raw)
	switch {
	case containsAny(lower, consoleMarkers):
		return DeviceConsole
	case containsAny(lower, tabletMarkers),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return DeviceTablet
	case parsed.Mobile():
		return DeviceMobile
	case containsAny(lower, otherMarkers):
		return DeviceOthers
	default:
		return DevicePC
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
