package cmd

import (
	"context"
	"fmt"
	"net/netip"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/validation"
)

// RunNATLookup asks the engine for the translation of one connection.
// src and dst are address:port pairs.
func RunNATLookup(proto, src, dst, dir string) error {
	key, err := parseConnKey(proto, src, dst)
	if err != nil {
		return err
	}
	var d uint16
	switch dir {
	case "in":
		d = npf.DirIn
	case "out", "":
		d = npf.DirOut
	default:
		return fmt.Errorf("%w: direction %q", npf.ErrInvalidArgument, dir)
	}

	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := c.NATLookup(ctx, key, d)
		if err != nil {
			return fmt.Errorf("nat lookup: %w", err)
		}
		Printer.Fprintf(stdout, i18n.MsgNATResult, key, res.Original, res.TranslatedPort)
		return nil
	})
}

// RunConnList prints the engine's connection snapshot.
func RunConnList() error {
	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conns, err := c.ConnList(ctx)
		if err != nil {
			return fmt.Errorf("failed to list connections: %w", err)
		}
		for _, conn := range conns {
			Printer.Fprintf(stdout, "%-8s %s -> %s", conn.Interface, conn.Src, conn.Dst)
			if conn.TranslatedPort != 0 {
				Printer.Fprintf(stdout, " (port %d)", conn.TranslatedPort)
			}
			Printer.Fprintln(stdout)
		}
		Printer.Fprintf(stdout, i18n.MsgConnCount, len(conns))
		return nil
	})
}

func parseConnKey(proto, src, dst string) (npf.ConnKey, error) {
	if proto == "" || src == "" || dst == "" {
		return npf.ConnKey{}, usageError(brand.BinaryName + " nat-lookup -proto tcp <src:port> <dst:port>")
	}
	p, err := validation.Protocol(proto)
	if err != nil {
		return npf.ConnKey{}, err
	}
	s, err := netip.ParseAddrPort(src)
	if err != nil {
		return npf.ConnKey{}, fmt.Errorf("%w: source: %v", npf.ErrInvalidArgument, err)
	}
	d, err := netip.ParseAddrPort(dst)
	if err != nil {
		return npf.ConnKey{}, fmt.Errorf("%w: destination: %v", npf.ErrInvalidArgument, err)
	}
	return npf.ConnKey{Proto: p, Src: s, Dst: d}, nil
}
