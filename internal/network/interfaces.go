package network

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// Link is the subset of an OS network interface the provider inspects.
type Link struct {
	Name     string
	Up       bool
	Loopback bool
	HasAddr  bool
}

// InterfaceProvider derives a Status by polling the host's network
// interfaces. The first up, addressed, non-loopback link wins, preferring
// wired over wireless over cellular.
type InterfaceProvider struct {
	interval time.Duration
	links    func() ([]Link, error)

	mu   sync.Mutex
	last Status
	subs listeners[func(Status)]
}

func NewInterfaceProvider(interval time.Duration) *InterfaceProvider {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &InterfaceProvider{interval: interval, links: hostLinks}
}

func (p *InterfaceProvider) Current() (Status, error) {
	links, err := p.links()
	if err != nil {
		return Status{}, err
	}
	st := statusFromLinks(links)
	p.mu.Lock()
	p.last = st
	p.mu.Unlock()
	return st, nil
}

func (p *InterfaceProvider) Subscribe(fn func(Status)) func() {
	p.mu.Lock()
	id := p.subs.add(fn)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs.m, id)
		p.mu.Unlock()
	}
}

// Run polls until ctx is done and notifies subscribers whenever the derived
// status changes.
func (p *InterfaceProvider) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *InterfaceProvider) poll() {
	links, err := p.links()
	if err != nil {
		log.Warnf("list interfaces: %v", err)
		return
	}
	st := statusFromLinks(links)

	p.mu.Lock()
	if st == p.last {
		p.mu.Unlock()
		return
	}
	p.last = st
	subs := p.subs.list()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func statusFromLinks(links []Link) Status {
	best := Status{Transport: TransportNone}
	rank := map[Transport]int{TransportEthernet: 4, TransportWiFi: 3, TransportCellular: 2, TransportUnknown: 1}
	for _, l := range links {
		if !l.Up || l.Loopback || !l.HasAddr {
			continue
		}
		t := transportFor(l.Name)
		if rank[t] > rank[best.Transport] {
			best = Status{Connected: true, Transport: t}
		}
	}
	return best
}

func transportFor(name string) Transport {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wifi"), strings.HasPrefix(n, "ath"):
		return TransportWiFi
	case strings.HasPrefix(n, "eth"), strings.HasPrefix(n, "en"):
		return TransportEthernet
	case strings.HasPrefix(n, "wwan"), strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "ccmni"), strings.HasPrefix(n, "pdp_ip"):
		return TransportCellular
	}
	return TransportUnknown
}

func hostLinks() ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		links = append(links, Link{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
			HasAddr:  err == nil && len(addrs) > 0,
		})
	}
	return links, nil
}
