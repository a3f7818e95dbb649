package core

import (
	"reflect"

	"github.com/encodeous/skein/state"
	"github.com/google/uuid"
)

func Get[T state.Module](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

func newId() string {
	return uuid.NewString()
}

func reservedKey(key string) bool {
	return key == state.KeyDiscovery || key == state.KeyUnsubscribe
}
