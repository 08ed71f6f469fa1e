package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Methods of QObject, and of the types embedding it, that must not become
// invokable methods on the client.
var methodBlacklist = []string{
	"MarshalJSON",
	"Connection",
	"Identifier",
	"Referenced",
	"Emit",
	"ResetProperties",
	"Changed",
	"InitObject",
}

// Methods that Model promotes into the types embedding it. They are the Go
// side of the model API and are hidden from the client.
var modelMethods = []string{
	"Row",
	"RowCount",
	"RoleNames",
	"Reset",
	"Inserted",
	"Removed",
	"Updated",
}

// typeInfo is the parsed form of a Go struct as a client object type. It
// encodes into the typeinfo structure the client expects.
type typeInfo struct {
	Name       string              `json:"name"`
	Properties map[string]string   `json:"properties"`
	Methods    map[string][]string `json:"methods"`
	Signals    map[string][]string `json:"signals"`

	propertyFieldIndex map[string][]int
}

var knownTypeInfo = make(map[reflect.Type]*typeInfo)

var (
	qobjectType = reflect.TypeOf((*QObject)(nil)).Elem()
	modelType   = reflect.TypeOf(Model{})
)

func typeIsQObject(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PtrTo(t).Implements(qobjectType)
}

func typeIsModel(t reflect.Type) bool {
	f, ok := t.FieldByName("Model")
	return ok && f.Anonymous && f.Type == modelType
}

func typeShouldIgnoreField(field reflect.StructField) bool {
	switch {
	case field.PkgPath != "" || field.Tag.Get("qbackend") == "-":
		// Unexported or ignored
		return true
	case field.Type.Kind() != reflect.Func && field.Tag.Get("json") == "-":
		// Non-signal field that JSON doesn't encode
		return true
	case field.Name == "QObject":
		return true
	}
	return false
}

func typeShouldIgnoreMethod(t reflect.Type, method reflect.Method) bool {
	if method.PkgPath != "" {
		return true
	}
	for _, name := range methodBlacklist {
		if method.Name == name {
			return true
		}
	}
	if typeIsModel(t) {
		for _, name := range modelMethods {
			if method.Name == name {
				return true
			}
		}
	}
	return false
}

func lowerFirst(name string) string {
	if len(name) > 0 {
		name = strings.ToLower(name[:1]) + name[1:]
	}
	return name
}

// typeMethodValueByName is Value.MethodByName, also accepting the client's
// lowercase spelling.
func typeMethodValueByName(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if method.Name == name || lowerFirst(method.Name) == name {
			return v.Method(i)
		}
	}
	return reflect.Value{}
}

func typeFieldName(field reflect.StructField) string {
	name := lowerFirst(field.Name)
	if field.Type.Kind() != reflect.Func {
		if tag := field.Tag.Get("json"); tag != "" {
			if n := strings.Split(tag, ",")[0]; n != "" {
				name = n
			}
		}
	}
	return name
}

func typeFieldChangedName(fieldName string) string {
	return fieldName + "Changed"
}

func typeInfoTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return typeInfoTypeName(t.Elem())
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "double"
	case reflect.String:
		return "string"
	case reflect.Array, reflect.Slice:
		return "array"
	case reflect.Map:
		return "map"
	case reflect.Struct:
		if typeIsQObject(t) {
			return "object"
		}
		return "map"
	default:
		return "var"
	}
}

func parseType(t reflect.Type) (*typeInfo, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if ti, exists := knownTypeInfo[t]; exists {
		return ti, nil
	}
	if !typeIsQObject(t) {
		return nil, fmt.Errorf("type '%s' is not a QObject; it must embed QObject", t.Name())
	}

	ti := &typeInfo{
		Name:               t.Name(),
		Properties:         make(map[string]string),
		Methods:            make(map[string][]string),
		Signals:            make(map[string][]string),
		propertyFieldIndex: make(map[string][]int),
	}

	if err := typeFieldsToTypeInfo(ti, t, nil); err != nil {
		return nil, err
	}

	// Every property has a change signal; explicit ones must not take parameters
	for name := range ti.Properties {
		signalName := typeFieldChangedName(name)
		if params, exists := ti.Signals[signalName]; exists {
			if len(params) > 0 {
				return nil, fmt.Errorf("signal '%s' is a property change signal, but has %d parameters", signalName, len(params))
			}
		} else {
			ti.Signals[signalName] = []string{}
		}
	}

	ptrType := reflect.PtrTo(t)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		if typeShouldIgnoreMethod(t, method) {
			continue
		}
		params := []string{}
		for p := 1; p < method.Type.NumIn(); p++ {
			params = append(params, typeInfoTypeName(method.Type.In(p)))
		}
		ti.Methods[lowerFirst(method.Name)] = params
	}

	knownTypeInfo[t] = ti
	return ti, nil
}

func typeFieldsToTypeInfo(ti *typeInfo, t reflect.Type, index []int) error {
	var anonStructs []reflect.StructField

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if typeShouldIgnoreField(field) {
			continue
		} else if field.Anonymous {
			// Breadth first; embedded structs are handled last
			anonStructs = append(anonStructs, field)
			continue
		}
		name := typeFieldName(field)
		fieldIndex := append(append([]int{}, index...), field.Index...)

		// Signals are func fields, with a qbackend tag naming each parameter
		if field.Type.Kind() == reflect.Func {
			paramNames := strings.Split(field.Tag.Get("qbackend"), ",")
			if field.Type.NumIn() > 0 && len(paramNames) != field.Type.NumIn() {
				return fmt.Errorf("signal '%s' has %d parameters, but names %d", name, field.Type.NumIn(), len(paramNames))
			}
			params := []string{}
			for p := 0; p < field.Type.NumIn(); p++ {
				params = append(params, typeInfoTypeName(field.Type.In(p))+" "+paramNames[p])
			}
			ti.Signals[name] = params
		} else {
			ti.Properties[name] = typeInfoTypeName(field.Type)
			ti.propertyFieldIndex[name] = fieldIndex
		}
	}

	for _, field := range anonStructs {
		at := field.Type
		if at.Kind() == reflect.Ptr {
			at = at.Elem()
		}
		if at.Kind() != reflect.Struct {
			continue
		}
		if err := typeFieldsToTypeInfo(ti, at, append(append([]int{}, index...), field.Index...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *typeInfo) String() string {
	str, _ := json.MarshalIndent(t, "", "  ")
	return string(str)
}
