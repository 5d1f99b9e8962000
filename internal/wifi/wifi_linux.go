//go:build linux

package wifi

import (
	mdwifi "github.com/mdlayher/wifi"
)

// linuxEnricher queries the kernel's nl80211 interface over netlink for the
// BSS a wireless interface is currently associated with.
type linuxEnricher struct{}

func newPlatformEnricher() Enricher {
	return &linuxEnricher{}
}

func (e *linuxEnricher) Describe(ifaceName string) (Info, bool) {
	client, err := mdwifi.New()
	if err != nil {
		return Info{}, false
	}
	defer client.Close()

	ifaces, err := client.Interfaces()
	if err != nil {
		return Info{}, false
	}

	var match *mdwifi.Interface
	for _, iface := range ifaces {
		if iface.Name == ifaceName {
			match = iface
			break
		}
	}
	if match == nil {
		return Info{}, false
	}

	bss, err := client.BSS(match)
	if err != nil || bss.SSID == "" {
		return Info{}, false
	}

	return Info{SSID: bss.SSID, BSSID: bss.BSSID.String()}, true
}
