package state

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
)

var ErrInvalidConfig = errors.New("invalid config")

var addressPattern, _ = regexp.Compile("^[0-9A-Za-z._:@/+-]+$")

func AddressValidator(addr Address) error {
	s := string(addr)
	if !addressPattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid address, must match pattern %s", s, addressPattern.String())
	}
	if len(s) > MaxAddressLength {
		return fmt.Errorf("len(\"%s\") = %d > %d is too long", s, len(s), MaxAddressLength)
	}
	return nil
}

func KeyValidator(key string) error {
	if key == "" {
		return errors.New("message key must not be empty")
	}
	return nil
}

func BindValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	return err
}

func LocalConfigValidator(cfg *LocalCfg) error {
	if err := AddressValidator(cfg.Address); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.InboundBufferLimit < 0 || cfg.OutboundBufferLimit < 0 {
		return fmt.Errorf("%w: buffer limits must not be negative", ErrInvalidConfig)
	}
	if cfg.DedupTTL < 0 || cfg.DiscoveryInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if q := cfg.Links.Quic; q != nil {
		if q.Listen != "" {
			if err := BindValidator(q.Listen); err != nil {
				return fmt.Errorf("%w: quic listen: %w", ErrInvalidConfig, err)
			}
		}
		for _, p := range q.Peers {
			if err := BindValidator(p); err != nil {
				return fmt.Errorf("%w: quic peer: %w", ErrInvalidConfig, err)
			}
		}
	}
	if len(cfg.Links.Bus) != len(slices.Compact(slices.Sorted(slices.Values(cfg.Links.Bus)))) {
		return fmt.Errorf("%w: duplicate bus name", ErrInvalidConfig)
	}
	return nil
}

func SimConfigValidator(cfg *SimCfg) error {
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("%w: sim has no nodes", ErrInvalidConfig)
	}
	for _, n := range cfg.Nodes {
		if err := AddressValidator(Address(n)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if len(slices.Compact(slices.Sorted(slices.Values(cfg.Nodes)))) != len(cfg.Nodes) {
		return fmt.Errorf("%w: duplicate node", ErrInvalidConfig)
	}
	if _, err := ParseGraph(cfg.Graph, cfg.Nodes); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
