package cmd

import (
	"context"

	"github.com/efficientgo/core/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/device/class/hub"
	"github.com/ardnew/softhub/internal/profile"
	"github.com/ardnew/softhub/pkg"
)

// statusEndpoint is the interrupt IN endpoint number of the hub.
const statusEndpoint = 0x01

// virtualHub is a hub device built from a profile.
type virtualHub struct {
	profile *profile.Profile
	hub     *hub.Hub
	device  *device.Device
}

func loadProfile(path string) (*profile.Profile, error) {
	if path == "" {
		return profile.Default(), nil
	}
	return profile.Load(path)
}

// newVirtualHub builds the device and attaches the hub driver. Metrics are
// registered with reg when it is not nil.
func newVirtualHub(ctx context.Context, p *profile.Profile, reg prometheus.Registerer) (*virtualHub, error) {
	desc, err := p.Descriptor()
	if err != nil {
		return nil, err
	}

	h := hub.New(hub.NewStaticProvider(desc))
	p.Configure(h)
	h.SetMetrics(hub.NewMetrics(reg))

	id := p.Identity
	builder := device.NewDeviceBuilder().
		WithVendorProduct(uint16(id.VendorID), uint16(id.ProductID), uint16(id.Release)).
		WithStrings(id.Manufacturer, id.Product, id.Serial).
		AddConfiguration(1).
		SelfPowered()
	h.ConfigureDevice(builder, statusEndpoint, uint8(id.Interval))

	dev, err := builder.Build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build hub device")
	}
	if err := h.AttachToInterface(dev, 1, 0); err != nil {
		return nil, errors.Wrap(err, "attach hub driver")
	}
	return &virtualHub{profile: p, hub: h, device: dev}, nil
}

// configured runs once the host has configured the hub: the profile's port
// conditions are raised, which reports them on the status endpoint.
func (v *virtualHub) configured(ctx context.Context) {
	if err := v.profile.ApplyInitial(v.hub); err != nil {
		pkg.LogWarn(pkg.ComponentCommand, "initial port state not applied", "error", err)
	}
	if err := v.hub.PrimeOut(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentCommand, "OUT endpoint not primed", "error", err)
	}
}
