// Package provider lists the speed test backends the CLI can dispatch to.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"

	"github.com/idanyas/speedprobe/internal/app"
	"github.com/idanyas/speedprobe/internal/client"
	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/data"
	"github.com/idanyas/speedprobe/internal/output"
)

var ErrNotImplemented = errors.New("provider not implemented")

// RunFunc performs one complete measurement.
type RunFunc func(ctx context.Context, cfg *config.Config, c client.Doer, logger log.Interface, out *output.Printer) (*data.TestResult, error)

type Provider struct {
	Name    string
	Aliases []string
	Host    string
	Run     RunFunc
}

func notImplemented(name string) RunFunc {
	return func(context.Context, *config.Config, client.Doer, log.Interface, *output.Printer) (*data.TestResult, error) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotImplemented)
	}
}

// All returns the providers in display order.
func All() []Provider {
	return []Provider{
		{Name: "cloudflare", Aliases: []string{"cf"}, Host: "speed.cloudflare.com", Run: app.RunSpeedTest},
		{Name: "fast", Aliases: []string{"nf"}, Host: "fast.com", Run: notImplemented("fast")},
		{Name: "ookla", Aliases: []string{"os"}, Host: "speedtest.net", Run: notImplemented("ookla")},
	}
}

// Lookup finds a provider by name or alias.
func Lookup(name string) (Provider, bool) {
	for _, p := range All() {
		if p.Name == name {
			return p, true
		}
		for _, a := range p.Aliases {
			if a == name {
				return p, true
			}
		}
	}
	return Provider{}, false
}
