// Package null answers placeholder data for any resource.
package null

import (
	"net/netip"

	"github.com/cuemby/dynadns/pkg/plugin"
	"github.com/cuemby/dynadns/pkg/result"
	"github.com/cuemby/dynadns/pkg/sttl"
)

const Name = "null"

// CNAMETarget is answered for records with an origin.
const CNAMETarget = "invalid."

func init() {
	plugin.Register(Name, func() plugin.Plugin { return Null{} })
}

// Null maps every resource name and answers 0.0.0.0 and :: for address
// records, or CNAMETarget where a CNAME is legal. It is always up.
type Null struct{}

func (Null) Name() string      { return Name }
func (Null) APIVersion() int   { return plugin.APIVersion }
func (Null) Caps() plugin.Caps { return plugin.CanResolve }

func (Null) MapResource(string, string) (plugin.Mapping, error) {
	return plugin.Mapping{}, nil
}

func (Null) ResourceSize(string) (v4, v6 int, err error) {
	return 1, 1, nil
}

func (Null) Resolve(_, _ int, origin string, _ *plugin.ClientInfo, out *result.Result) sttl.STTL {
	if origin != "" {
		out.SetCNAME(CNAMETarget)
	} else {
		out.Add(netip.IPv4Unspecified())
		out.Add(netip.IPv6Unspecified())
	}
	return sttl.Up()
}
