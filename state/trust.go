package state

import "slices"

// TrustPredicate decides whether packets from a transport level identity are accepted
type TrustPredicate func(identity string) bool

// TrustSet trusts the listed identities. "*" trusts everyone and an empty list trusts no one.
func TrustSet(origins []string) TrustPredicate {
	if slices.Contains(origins, "*") {
		return TrustAll
	}
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	return func(identity string) bool {
		_, ok := set[identity]
		return ok
	}
}

func TrustAll(string) bool {
	return true
}
