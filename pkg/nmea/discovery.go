package nmea

import (
	"context"
	"fmt"
	"strings"
	"time"

	avahi "github.com/OpenPrinting/go-avahi"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

const serviceType = "_nmea-0183._tcp"

// Discovery browses for NMEA-over-TCP providers and resolves each one
// into an AvahiService by following the browse-resolve-read-TXT-key
// sequence. It is a thin adapter over the cgo Avahi client so the
// multiplexer itself never touches cgo types.
type Discovery struct {
	logger *logx.Logger
	client *avahi.Client

	browser *avahi.ServiceBrowser

	onAdd    func(geo.AvahiService)
	onRemove func(identifier string)

	cancel context.CancelFunc
}

// NewDiscovery opens an Avahi client connection and starts browsing for
// serviceType. onAdd/onRemove are invoked from the discovery goroutine.
func NewDiscovery(logger *logx.Logger, onAdd func(geo.AvahiService), onRemove func(string)) (*Discovery, error) {
	client, err := avahi.NewClient(avahi.ClientFlags(0))
	if err != nil {
		return nil, geo.NewError(geo.KindProviderFailure, "avahi client: %v", err)
	}

	browser, err := avahi.NewServiceBrowser(client, avahi.IfIndexUnspec,
		avahi.ProtocolUnspec, serviceType, "", avahi.LookupUseMulticast)
	if err != nil {
		client.Close()
		return nil, geo.NewError(geo.KindProviderFailure, "avahi browser: %v", err)
	}

	d := &Discovery{
		logger:   logger,
		client:   client,
		browser:  browser,
		onAdd:    onAdd,
		onRemove: onRemove,
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)

	return d, nil
}

func (d *Discovery) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evnt, ok := <-d.browser.Chan():
			if !ok {
				return
			}
			d.handleBrowserEvent(ctx, evnt)
		}
	}
}

func (d *Discovery) handleBrowserEvent(ctx context.Context, evnt *avahi.ServiceBrowserEvent) {
	switch evnt.Event {
	case avahi.BrowserNew:
		go d.resolve(ctx, evnt)
	case avahi.BrowserRemove:
		if d.onRemove != nil {
			d.onRemove(identifierOf(evnt.IfIdx, evnt.InstanceName))
		}
	}
}

func (d *Discovery) resolve(ctx context.Context, evnt *avahi.ServiceBrowserEvent) {
	resolver, err := avahi.NewServiceResolver(d.client, evnt.IfIdx, evnt.Proto,
		evnt.InstanceName, evnt.SvcType, evnt.Domain, avahi.ProtocolUnspec, avahi.LookupUseMulticast)
	if err != nil {
		d.logger.Debug("nmea service resolve failed", "instance", evnt.InstanceName, "error", err.Error())
		return
	}
	defer resolver.Close()

	select {
	case <-ctx.Done():
		return
	case revnt, ok := <-resolver.Chan():
		if !ok || revnt.Event != avahi.ResolverFound {
			return
		}

		accuracy := geo.AccuracyExact
		for _, kv := range revnt.Txt {
			k, v, found := strings.Cut(kv, "=")
			if found && k == "accuracy" {
				accuracy = geo.ParseAccuracyLevel(v)
			}
		}

		svc := geo.AvahiService{
			Identifier:   identifierOf(evnt.IfIdx, evnt.InstanceName),
			Endpoint:     fmt.Sprintf("%s:%d", revnt.Addr.String(), revnt.Port),
			IsSocket:     false,
			Accuracy:     accuracy,
			TimestampAdd: time.Now(),
		}
		if d.onAdd != nil {
			d.onAdd(svc)
		}
	case <-time.After(10 * time.Second):
		d.logger.Debug("nmea service resolve timed out", "instance", evnt.InstanceName)
	}
}

func identifierOf(ifidx avahi.IfIndex, instanceName string) string {
	return fmt.Sprintf("%d/%s", ifidx, instanceName)
}

// Close stops browsing and releases the Avahi client connection.
func (d *Discovery) Close() {
	d.cancel()
	d.browser.Close()
	d.client.Close()
}
