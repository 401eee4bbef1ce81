// Package catalog holds the static network / bundle / price tables consulted
// read-only by the purchase flow.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"datashop/internal/common/money"
)

// ErrUnknownProduct is returned for a network or bundle not in the catalog.
var ErrUnknownProduct = errors.New("unknown product")

// Bundle is a purchasable data bundle.
type Bundle struct {
	Name  string      `json:"name"`
	Price money.Money `json:"price"`
}

// Catalog maps network names to their bundle tables.
type Catalog struct {
	order    []string
	networks map[string][]Bundle
}

// MembershipPrice is the fixed price of an AFA membership registration.
var MembershipPrice = money.New(800, money.GHS) // GHS 8.00

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{networks: make(map[string][]Bundle)}

	// MTN and iShare price per GB, 1GB through 30GB.
	c.add("MTN", perGB(530, 30))
	c.add("TIGO ISHARE", perGB(500, 30))

	c.add("TIGO BIG-TIME", []Bundle{
		{Name: "15GB", Price: money.New(5700, money.GHS)},
		{Name: "20GB", Price: money.New(7100, money.GHS)},
		{Name: "25GB", Price: money.New(7600, money.GHS)},
		{Name: "30GB", Price: money.New(8000, money.GHS)},
		{Name: "40GB", Price: money.New(9000, money.GHS)},
		{Name: "50GB", Price: money.New(10000, money.GHS)},
		{Name: "100GB", Price: money.New(21000, money.GHS)},
	})

	c.add("TELECEL", []Bundle{
		{Name: "5GB", Price: money.New(2450, money.GHS)},
		{Name: "10GB", Price: money.New(4500, money.GHS)},
		{Name: "15GB", Price: money.New(6000, money.GHS)},
		{Name: "20GB", Price: money.New(8000, money.GHS)},
		{Name: "25GB", Price: money.New(10000, money.GHS)},
		{Name: "30GB", Price: money.New(11100, money.GHS)},
	})

	return c
}

// Load reads a catalog from a JSON file, replacing the defaults. The file
// maps network name to a list of {name, price_minor} entries.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var file map[string][]struct {
		Name       string `json:"name"`
		PriceMinor int64  `json:"price_minor"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	c := &Catalog{networks: make(map[string][]Bundle)}
	for network, entries := range file {
		bundles := make([]Bundle, 0, len(entries))
		for _, e := range entries {
			if e.PriceMinor <= 0 {
				return nil, fmt.Errorf("catalog entry %s/%s: price must be positive", network, e.Name)
			}
			bundles = append(bundles, Bundle{Name: e.Name, Price: money.New(e.PriceMinor, money.GHS)})
		}
		c.add(network, bundles)
	}
	return c, nil
}

func (c *Catalog) add(network string, bundles []Bundle) {
	key := normalize(network)
	if _, exists := c.networks[key]; !exists {
		c.order = append(c.order, network)
	}
	c.networks[key] = bundles
}

// Lookup resolves a network and bundle name to a price.
func (c *Catalog) Lookup(network, bundle string) (money.Money, error) {
	bundles, ok := c.networks[normalize(network)]
	if !ok {
		return money.Money{}, fmt.Errorf("network %q: %w", network, ErrUnknownProduct)
	}
	for _, b := range bundles {
		if strings.EqualFold(b.Name, bundle) {
			return b.Price, nil
		}
	}
	return money.Money{}, fmt.Errorf("bundle %q on %q: %w", bundle, network, ErrUnknownProduct)
}

// Networks returns the network names in catalog order.
func (c *Catalog) Networks() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Bundles returns the bundle table for a network.
func (c *Catalog) Bundles(network string) ([]Bundle, error) {
	bundles, ok := c.networks[normalize(network)]
	if !ok {
		return nil, fmt.Errorf("network %q: %w", network, ErrUnknownProduct)
	}
	out := make([]Bundle, len(bundles))
	copy(out, bundles)
	return out, nil
}

func normalize(network string) string {
	return strings.ToUpper(strings.TrimSpace(network))
}

func perGB(pricePerGBMinor int64, upToGB int) []Bundle {
	bundles := make([]Bundle, 0, upToGB)
	for gb := 1; gb <= upToGB; gb++ {
		bundles = append(bundles, Bundle{
			Name:  fmt.Sprintf("%dGB", gb),
			Price: money.New(pricePerGBMinor*int64(gb), money.GHS),
		})
	}
	return bundles
}
