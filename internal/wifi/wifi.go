// Package wifi best-effort enriches an outbound interface name with its
// associated SSID/BSSID when that interface is a wireless NIC. Enrichment is
// informational only: any failure (wired link, missing permissions,
// unsupported platform) falls back to the bare interface name.
package wifi

// Enricher reports the SSID/BSSID of a named interface, if it is wireless.
type Enricher interface {
	Describe(ifaceName string) (Info, bool)
}

// Info holds the wireless association details for one interface.
type Info struct {
	SSID  string
	BSSID string
}

// NewEnricher returns a platform-appropriate Enricher.
func NewEnricher() Enricher {
	return newPlatformEnricher()
}

// Label returns ifaceName annotated with its SSID when e can identify one,
// otherwise ifaceName unchanged.
func Label(e Enricher, ifaceName string) string {
	if ifaceName == "" || e == nil {
		return ifaceName
	}
	info, ok := e.Describe(ifaceName)
	if !ok || info.SSID == "" {
		return ifaceName
	}
	return ifaceName + " (ssid=" + info.SSID + ")"
}
