// Package config loads npf policy files written in HCL and assembles them
// into an npf.Config.
//
// A policy file lists rules and groups in evaluation order, followed or
// preceded by tables, NAT policies, rule procedures and ALGs:
//
//	algs = ["icmp"]
//
//	table "blocklist" {
//	  type    = "hash"
//	  entries = ["198.51.100.0/24", "2001:db8::/32"]
//	}
//
//	procedure "log" {
//	  ext "log" {
//	    params = { ifname = "npflog0" }
//	  }
//	}
//
//	nat "out" {
//	  interface = "wan0"
//	  address   = "203.0.113.1"
//	  ports     = true
//	}
//
//	group "external" {
//	  direction = "in"
//	  interface = "wan0"
//
//	  rule "ssh" {
//	    pass      = true
//	    stateful  = true
//	    priority  = pri.first
//	    code_type = code.bpf
//	    bpf       = [[6, 0, 0, 65535]]
//	  }
//
//	  group "blocklisted" {
//	    dynamic = true
//	  }
//	}
//
// The evaluation context provides pri.first and pri.last for priorities
// and code.nc and code.bpf for match program encodings.
package config
