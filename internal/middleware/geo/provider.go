package geo

import (
	"context"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/ipipdotnet/ipdb-go"
	"github.com/oschwald/maxminddb-golang/v2"
)

// Location is what a provider knows about an address.
type Location struct {
	Country string // ISO 3166-1 alpha-2
}

// Provider maps an IP address to a Location.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
	Close() error
}

// dbProvider answers lookups from a local GeoIP file.
type dbProvider struct {
	find  func(ip string) (string, error)
	close func() error
}

// NewDatabaseProvider opens a MaxMind (.mmdb) or IPIP (.ipdb) country
// database, chosen by file extension.
func NewDatabaseProvider(path string) (Provider, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mmdb":
		return openMMDB(path)
	case ".ipdb":
		return openIPDB(path)
	default:
		return nil, fmt.Errorf("unsupported geo database format %q (expected .mmdb or .ipdb)", ext)
	}
}

func openMMDB(path string) (*dbProvider, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mmdb: %w", err)
	}
	return &dbProvider{
		find: func(ip string) (string, error) {
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				return "", err
			}
			var rec struct {
				Country struct {
					ISOCode string `maxminddb:"iso_code"`
				} `maxminddb:"country"`
			}
			if err := db.Lookup(addr).Decode(&rec); err != nil {
				return "", err
			}
			return rec.Country.ISOCode, nil
		},
		close: db.Close,
	}, nil
}

func openIPDB(path string) (*dbProvider, error) {
	db, err := ipdb.NewCity(path)
	if err != nil {
		return nil, fmt.Errorf("open ipdb: %w", err)
	}
	return &dbProvider{
		find: func(ip string) (string, error) {
			info, err := db.FindInfo(ip, "EN")
			if err != nil {
				return "", err
			}
			return info.CountryCode, nil
		},
		// ipdb-go keeps the whole file in memory.
		close: func() error { return nil },
	}, nil
}

func (p *dbProvider) Lookup(_ context.Context, ip string) (Location, error) {
	code, err := p.find(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geo database: %w", err)
	}
	if code == "" {
		return Location{}, ErrNoCountry
	}
	return Location{Country: code}, nil
}

func (p *dbProvider) Close() error {
	return p.close()
}
