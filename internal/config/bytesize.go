package config

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/jmylchreest/framecast/pkg/bytesize"
)

var sizeType = reflect.TypeOf(bytesize.Size(0))

// byteSizeHook decodes "8MB" style strings and plain numbers into
// bytesize.Size fields.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != sizeType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.Size(v), nil
		case int64:
			return bytesize.Size(v), nil
		case float64:
			return bytesize.Size(v), nil
		default:
			return data, nil
		}
	}
}
