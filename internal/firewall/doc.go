// Package firewall projects npf address tables into nftables interval sets
// so that hosts without an npf engine can still enforce table membership.
//
// Each npf table becomes up to two sets in one inet table, named
// npf_<table>_v4 and npf_<table>_v6. Sets owned by the projection that no
// longer have a source table are removed on the next sync.
package firewall
