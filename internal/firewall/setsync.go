//go:build linux

package firewall

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"sync"

	"github.com/google/nftables"

	"grimm.is/npfkit/internal/logging"
	"grimm.is/npfkit/internal/npf"
)

const setPrefix = "npf_"

var validSetName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SetSync mirrors npf tables into nftables sets.
type SetSync struct {
	conn      NFTablesConn
	tableName string
	table     *nftables.Table
	logger    *logging.Logger
	mu        sync.Mutex
}

// NewSetSync creates a projection into the inet table tableName.
func NewSetSync(conn NFTablesConn, tableName string) *SetSync {
	return &SetSync{
		conn:      conn,
		tableName: tableName,
		logger:    logging.WithComponent("nft"),
	}
}

// Open connects to the running kernel's nftables.
func Open(tableName string) (*SetSync, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables: %w", err)
	}
	return NewSetSync(NewRealNFTablesConn(conn), tableName), nil
}

// getTable returns the table reference, creating it if needed.
func (s *SetSync) getTable() (*nftables.Table, error) {
	if s.table != nil {
		return s.table, nil
	}

	tables, err := s.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == s.tableName && t.Family == nftables.TableFamilyINet {
			s.table = t
			return t, nil
		}
	}

	s.table = s.conn.AddTable(&nftables.Table{Name: s.tableName, Family: nftables.TableFamilyINet})
	return s.table, nil
}

// SyncTables replaces the projected sets with the contents of tables.
// Tables carrying only a pre-built data blob are skipped.
func (s *SetSync) SyncTables(tables []*npf.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.getTable()
	if err != nil {
		return err
	}
	existing, err := s.conn.GetSets(table)
	if err != nil {
		return fmt.Errorf("failed to get sets: %w", err)
	}
	byName := make(map[string]*nftables.Set, len(existing))
	for _, set := range existing {
		byName[set.Name] = set
	}

	wanted := make(map[string]bool)
	for _, t := range tables {
		if !validSetName.MatchString(t.Name()) {
			s.logger.Warn("skipping table with unsupported name", "table", t.Name())
			continue
		}
		entries := t.Entries()
		if len(entries) == 0 {
			if _, ok := t.Data(); ok {
				s.logger.Debug("skipping pre-built table", "table", t.Name())
				continue
			}
		}

		v4, v6 := splitFamilies(entries)
		for _, fam := range []struct {
			suffix  string
			keyType nftables.SetDatatype
			entries []netip.Prefix
		}{
			{"_v4", nftables.TypeIPAddr, v4},
			{"_v6", nftables.TypeIP6Addr, v6},
		} {
			name := setPrefix + t.Name() + fam.suffix
			wanted[name] = true
			if err := s.syncSet(table, byName[name], name, fam.keyType, fam.entries); err != nil {
				return fmt.Errorf("table %s: %w", t.Name(), err)
			}
		}
	}

	for name, set := range byName {
		if strings.HasPrefix(name, setPrefix) && !wanted[name] {
			s.conn.DelSet(set)
		}
	}

	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (s *SetSync) syncSet(table *nftables.Table, set *nftables.Set, name string, keyType nftables.SetDatatype, entries []netip.Prefix) error {
	if set == nil {
		set = &nftables.Set{
			Name:     name,
			Table:    table,
			KeyType:  keyType,
			Interval: true,
		}
		if err := s.conn.AddSet(set, nil); err != nil {
			return fmt.Errorf("failed to add set %s: %w", name, err)
		}
	} else {
		s.conn.FlushSet(set)
	}

	elems := intervalElements(entries)
	if len(elems) == 0 {
		return nil
	}
	if err := s.conn.SetAddElements(set, elems); err != nil {
		return fmt.Errorf("failed to add elements to %s: %w", name, err)
	}
	return nil
}
