package asn

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// localResolver implements Resolver against a local MaxMind GeoLite2-ASN
// database, avoiding a network round trip per hop at the cost of needing the
// .mmdb file refreshed out of band.
type localResolver struct {
	db *geoip2.Reader
}

// NewLocal opens the GeoLite2-ASN database at path. The returned Resolver
// owns the file handle; call Close when done.
func NewLocal(path string) (*localResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asn: open mmdb %q: %w", path, err)
	}
	return &localResolver{db: db}, nil
}

func (r *localResolver) Lookup(_ context.Context, ip net.IP) (Info, error) {
	rec, err := r.db.ASN(ip)
	if err != nil {
		return Info{}, fmt.Errorf("asn: mmdb lookup %s: %w", ip, err)
	}
	if rec.AutonomousSystemNumber == 0 {
		return Info{}, fmt.Errorf("asn: no record for %s", ip)
	}
	return Info{
		ASN:  rec.AutonomousSystemNumber,
		Name: rec.AutonomousSystemOrganization,
	}, nil
}

func (r *localResolver) Close() error {
	return r.db.Close()
}

// BuildTime reports when the underlying mmdb file was generated, read
// straight from its metadata rather than geoip2.Reader (which doesn't
// expose it), so callers can warn when the ASN database has gone stale.
func BuildTime(path string) (time.Time, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("asn: open mmdb %q: %w", path, err)
	}
	defer db.Close()
	return time.Unix(int64(db.Metadata.BuildEpoch), 0), nil
}
