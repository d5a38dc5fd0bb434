package capability

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// response is implemented by every typed response through its embedded Passthrough.
type response interface {
	passthrough() *Passthrough
}

var knownKeys sync.Map // reflect.Type -> map[string]bool

// decodeResponse fills dst from a decoded script value. It never fails:
// values that do not fit dst are kept in Raw and keys dst does not declare
// are kept in Extra. It reports whether the value fit.
func decodeResponse(value any, dst response) bool {
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}

	obj, isObject := value.(map[string]any)
	fit := isObject && json.Unmarshal(data, dst) == nil

	p := dst.passthrough()
	*p = Passthrough{}
	if !fit {
		p.Raw = data
	}
	for k, v := range obj {
		if declared(dst)[strings.ToLower(k)] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return fit
}

// declared returns the lower-cased JSON keys of dst's own fields. Embedded
// structs are skipped so Passthrough's keys count as undeclared.
func declared(dst any) map[string]bool {
	t := reflect.TypeOf(dst).Elem()
	if keys, ok := knownKeys.Load(t); ok {
		return keys.(map[string]bool)
	}

	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		keys[strings.ToLower(name)] = true
	}
	knownKeys.Store(t, keys)
	return keys
}
