package iptables

import (
	"fmt"
	"strconv"

	"github.com/denniswebb/natgate/internal/route"
)

const (
	filterForwardChain = "FORWARD"
	natTable           = "nat"
	preroutingChain    = "PREROUTING"

	forwardComment = "Accept to forward traffic"
	returnComment  = "Accept to forward return traffic"
	dnatComment    = "redirect pkts to homeserver"
)

// Install returns the mutations that activate r: accept forwarded traffic to
// the destination, accept its return traffic, then DNAT the public port.
func Install(r route.Route) []Mutation {
	dest := r.Destination()
	public := r.Public()
	proto := r.Protocol()

	return []Mutation{
		{
			Program: ipv4Binary,
			Action:  Insert,
			Chain:   filterForwardChain,
			RuleSpec: []string{
				"-d", dest.IP,
				"-m", "comment", "--comment", forwardComment,
				"-m", "tcp", "-p", proto,
				"--dport", strconv.Itoa(int(public.Port)),
				"-j", "ACCEPT",
			},
		},
		{
			Program: ipv4Binary,
			Action:  Insert,
			Chain:   filterForwardChain,
			RuleSpec: []string{
				"-m", "comment", "--comment", returnComment,
				"-s", dest.IP,
				"-m", "tcp", "-p", proto,
				"--sport", strconv.Itoa(int(dest.Port)),
				"-j", "ACCEPT",
			},
		},
		{
			Program: ipv4Binary,
			Table:   natTable,
			Action:  Insert,
			Chain:   preroutingChain,
			RuleSpec: []string{
				"-m", "tcp", "-p", proto,
				"--dport", strconv.Itoa(int(public.Port)),
				"-m", "comment", "--comment", dnatComment,
				"-j", "DNAT",
				"--to-destination", fmt.Sprintf("%s:%d", dest.IP, dest.Port),
			},
		},
	}
}

// Uninstall returns the mutations that tear r down. They mirror Install one to
// one in the same order with every insert turned into a delete; iptables -D
// matches on the rule specification, not on position.
func Uninstall(r route.Route) []Mutation {
	install := Install(r)
	out := make([]Mutation, len(install))
	for i, m := range install {
		out[i] = m.WithAction(Delete)
	}
	return out
}
