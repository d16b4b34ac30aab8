// Package useragent supplies outbound client identities for the scraper.
//
// Identities are restricted to Chrome running on Android phones, which is the
// surface the mobile search pages are served to.
package useragent

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// ErrPoolExhausted is returned when the pool cannot produce an identity.
var ErrPoolExhausted = errors.New("useragent: identity pool exhausted")

// Source produces user agent strings.
type Source interface {
	Next() (string, error)
}

// Pool samples user agents from the product of its dimensions.
type Pool struct {
	AndroidVersions []string
	Devices         []string
	ChromeVersions  []string

	mu  sync.Mutex
	rng *rand.Rand
}

var defaultAndroidVersions = []string{"10", "11", "12", "13", "14"}

var defaultDevices = []string{
	"Pixel 6", "Pixel 7", "Pixel 7 Pro", "Pixel 8",
	"SM-G991B", "SM-G998B", "SM-S901B", "SM-S911B", "SM-A536B", "SM-A546E",
	"M2101K6G", "2201116SG", "CPH2305", "RMX3363", "moto g(60)", "XQ-CT54",
}

var defaultChromeVersions = []string{
	"116.0.5845.163", "117.0.5938.153", "118.0.5993.111", "119.0.6045.163",
	"120.0.6099.144", "121.0.6167.178", "122.0.6261.119", "123.0.6312.99",
	"124.0.6367.179", "125.0.6422.165",
}

// NewPool returns a pool over the built-in Chrome/Android/phone dimensions.
func NewPool() *Pool {
	return &Pool{
		AndroidVersions: defaultAndroidVersions,
		Devices:         defaultDevices,
		ChromeVersions:  defaultChromeVersions,
	}
}

// NewSeededPool returns a deterministic pool, used by tests.
func NewSeededPool(seed uint64) *Pool {
	p := NewPool()
	p.rng = rand.New(rand.NewPCG(seed, seed))
	return p
}

// Next returns a uniformly sampled user agent.
func (p *Pool) Next() (string, error) {
	if p == nil || len(p.AndroidVersions) == 0 || len(p.Devices) == 0 || len(p.ChromeVersions) == 0 {
		return "", ErrPoolExhausted
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	android := p.AndroidVersions[p.intN(len(p.AndroidVersions))]
	device := p.Devices[p.intN(len(p.Devices))]
	chrome := p.ChromeVersions[p.intN(len(p.ChromeVersions))]

	return fmt.Sprintf(
		"Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Mobile Safari/537.36",
		android, device, chrome,
	), nil
}

func (p *Pool) intN(n int) int {
	if p.rng != nil {
		return p.rng.IntN(n)
	}
	return rand.IntN(n)
}
