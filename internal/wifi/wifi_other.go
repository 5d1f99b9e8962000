//go:build !linux

package wifi

// stubEnricher reports no wireless association on platforms mdlayher/wifi's
// nl80211 backend doesn't support.
type stubEnricher struct{}

func newPlatformEnricher() Enricher {
	return &stubEnricher{}
}

func (e *stubEnricher) Describe(_ string) (Info, bool) {
	return Info{}, false
}
