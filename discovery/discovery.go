// Package discovery announces relays on the local network over mDNS and
// finds them again from clients.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_planetsync._tcp"
	Domain  = "local."
)

// Relay is a relay found on the network
type Relay struct {
	Instance string
	Host     string
	Port     int
	Version  string
}

// URL is the relay's HTTP base address
func (r Relay) URL() string {
	return fmt.Sprintf("http://%s:%d", r.Host, r.Port)
}

// Announcement keeps a relay registered until Shutdown
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers a relay listening on port
func Announce(port int, protocolVersion int) (*Announcement, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("planetsync-%s", host),
		Service,
		Domain,
		port,
		[]string{"ver=" + strconv.Itoa(protocolVersion)},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Announcement{server: server}, nil
}

func (a *Announcement) Shutdown() {
	a.server.Shutdown()
}

// Browse collects relays until ctx is done
func Browse(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initialize mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	found := make(chan []Relay, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		var relays []Relay
		for {
			select {
			case entry, ok := <-results:
				if !ok {
					found <- relays
					return
				}
				if r, ok := fromEntry(entry); ok {
					relays = append(relays, r)
				}
			case <-ctx.Done():
				found <- relays
				return
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	return <-found, nil
}

// First returns the first relay that answers before ctx is done
func First(ctx context.Context) (Relay, error) {
	relays, err := Browse(ctx)
	if err != nil {
		return Relay{}, err
	}
	if len(relays) == 0 {
		return Relay{}, errors.New("no relay found on the local network")
	}
	return relays[0], nil
}

func fromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	r := Relay{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		r.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		r.Host = "[" + entry.AddrIPv6[0].String() + "]"
	default:
		return Relay{}, false
	}
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "ver="); ok {
			r.Version = v
		}
	}
	return r, true
}
