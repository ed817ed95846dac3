// Package reflector derives and caches type names used to tag encoded
// events.
package reflector

import (
	"reflect"
	"sync"
)

// maxCacheSize bounds the type cache. When exceeded, the cache is cleared.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds metadata about a reflected type. Pointer types are
// described by their element type with Pointer set.
type TypeInfo struct {
	Name      string // Fully qualified name: "pkg/path.TypeName"
	ShortName string // "TypeName"
	Type      reflect.Type
	Pointer   bool
}

// New returns a pointer to a fresh zero value of the described type.
func (ti TypeInfo) New() reflect.Value {
	return reflect.New(ti.Type)
}

// Value converts a pointer created by New into the originally described
// type: the pointer itself for pointer types, the element otherwise.
func (ti TypeInfo) Value(ptr reflect.Value) any {
	if ti.Pointer {
		return ptr.Interface()
	}
	return ptr.Elem().Interface()
}

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor returns TypeInfo for type parameter T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for t. Safe for concurrent use.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	elem := t
	if t.Kind() == reflect.Pointer {
		elem = t.Elem()
	}
	ti = TypeInfo{
		Name:      elem.PkgPath() + "." + elem.Name(),
		ShortName: elem.Name(),
		Type:      elem,
		Pointer:   elem != t,
	}

	muCache.Lock()
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	muCache.Unlock()

	return ti
}
