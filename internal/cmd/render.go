package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/spf13/cobra"

	"github.com/denniswebb/natgate/internal/gateway"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/route"
)

type renderOptions struct {
	publicIP   string
	publicPort uint16
	innerIP    string
	innerPort  uint16
	protocol   string
	uninstall  bool
}

var renderOpts renderOptions

// RenderCmd prints the iptables commands for a single route without running them.
var RenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the iptables commands a route would run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd.OutOrStdout(), renderOpts)
	},
}

func runRender(w io.Writer, opts renderOptions) error {
	if !govalidator.IsIPv4(opts.publicIP) {
		return fmt.Errorf("public-ip %q must be an IPv4 address", opts.publicIP)
	}
	if !govalidator.IsIPv4(opts.innerIP) {
		return fmt.Errorf("inner-ip %q must be an IPv4 address", opts.innerIP)
	}
	if opts.publicPort == 0 || opts.innerPort == 0 {
		return fmt.Errorf("public-port and inner-port must be between 1 and 65535")
	}
	protocol := strings.ToLower(strings.TrimSpace(opts.protocol))
	if protocol == "" {
		protocol = gateway.DefaultProtocol
	}

	r := route.New(
		route.Endpoint{IP: opts.publicIP, Port: opts.publicPort},
		route.Endpoint{IP: opts.innerIP, Port: opts.innerPort},
		protocol,
	)

	mutations := iptables.Install(r)
	if opts.uninstall {
		mutations = iptables.Uninstall(r)
	}
	for _, m := range mutations {
		if _, err := fmt.Fprintf(w, "%s %s\n", m.Program, m); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	flags := RenderCmd.Flags()
	flags.StringVar(&renderOpts.publicIP, "public-ip", "", "Public IPv4 address of the route")
	flags.Uint16Var(&renderOpts.publicPort, "public-port", 0, "Public port of the route")
	flags.StringVar(&renderOpts.innerIP, "inner-ip", "", "Inner IPv4 address traffic is forwarded to")
	flags.Uint16Var(&renderOpts.innerPort, "inner-port", 0, "Inner port traffic is forwarded to")
	flags.StringVar(&renderOpts.protocol, "protocol", gateway.DefaultProtocol, "Transport protocol token")
	flags.BoolVar(&renderOpts.uninstall, "uninstall", false, "Print the commands that remove the route instead")

	for _, name := range []string{"public-ip", "public-port", "inner-ip", "inner-port"} {
		_ = RenderCmd.MarkFlagRequired(name)
	}
}
