// Package iptables turns forwarding routes into iptables mutations and runs
// them. Install and Uninstall are pure compilers; Runner applies a batch in
// order, either for real through an Executor or as rendered text in dry-run
// mode. CheckRules and VerifyChains inspect live firewall state without
// changing it.
package iptables
