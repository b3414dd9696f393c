package attr

import "reflect"

func reflectTypeOf[T any](p *T) reflect.Type {
	return reflect.TypeOf(p).Elem()
}
