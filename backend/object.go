package backend

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	uuid "github.com/satori/go.uuid"
)

// The QObject interface must be embedded in any struct that is published
// to the client as an object (as opposed to simple data).
//
// The QObject is initialized automatically when the object is first
// encountered in a published property. It may also be initialized
// explicitly with Connection.InitObject.
type QObject interface {
	json.Marshaler

	Connection() *Connection
	Identifier() string
	// Referenced returns true when the client holds a reference to this
	// object. When false, signals are dropped and changes are not sent.
	Referenced() bool

	// Emit sends the named signal to the client. The signal must be defined
	// within the object and parameters must match exactly.
	Emit(signal string, args ...interface{})
	// ResetProperties sends every property of the object to the client.
	ResetProperties()
	// Changed updates a property on the client.
	Changed(property string)
}

// If a type embedding QObject implements QObjectHasInit, InitObject is
// called right after the QObject is initialized.
type QObjectHasInit interface {
	QObject
	InitObject()
}

type objectImpl struct {
	c      *Connection
	id     string
	ref    bool
	object interface{}
	typ    *typeInfo
}

var errNotQObject = errors.New("struct does not embed QObject")

// asQObject returns the *objectImpl behind obj, if it is initialized, and
// whether obj is a QObject at all.
func asQObject(obj interface{}) (*objectImpl, bool) {
	if _, ok := obj.(QObject); !ok {
		return nil, false
	}
	v := reflect.Indirect(reflect.ValueOf(obj))
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, false
	}
	f := v.FieldByName("QObject")
	if !f.IsValid() {
		return nil, false
	}
	impl, _ := f.Interface().(*objectImpl)
	return impl, true
}

func initObject(object interface{}, c *Connection) (*objectImpl, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return initObjectId(object, c, u.String())
}

func initObjectId(object interface{}, c *Connection, id string) (*objectImpl, error) {
	value := reflect.ValueOf(object)
	if value.Kind() != reflect.Ptr || value.IsNil() || value.Elem().Kind() != reflect.Struct {
		return nil, errNotQObject
	}
	value = value.Elem()
	field := value.FieldByName("QObject")
	if !field.IsValid() || field.Type() != qobjectType {
		return nil, errNotQObject
	}
	if impl, _ := field.Interface().(*objectImpl); impl != nil {
		return impl, nil
	}

	ti, err := parseType(value.Type())
	if err != nil {
		return nil, err
	}
	impl := &objectImpl{
		c:      c,
		id:     id,
		object: object,
		typ:    ti,
	}
	field.Set(reflect.ValueOf(impl))

	if err := initSignals(object, impl); err != nil {
		return nil, err
	}
	if c != nil {
		if err := c.addObject(object.(QObject)); err != nil {
			return nil, err
		}
	}
	if io, ok := object.(QObjectHasInit); ok {
		io.InitObject()
	}
	return impl, nil
}

// initSignals assigns a function to every nil signal field that emits the
// signal when called.
func initSignals(object interface{}, impl *objectImpl) error {
	v := reflect.ValueOf(object).Elem()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := v.Type().Field(i)
		if typeShouldIgnoreField(fieldType) || field.Kind() != reflect.Func || !field.IsNil() {
			continue
		}
		name := typeFieldName(fieldType)
		if _, isSignal := impl.typ.Signals[name]; !isSignal {
			continue
		}
		f := reflect.MakeFunc(field.Type(), func(args []reflect.Value) []reflect.Value {
			unwrapped := make([]interface{}, len(args))
			for i, a := range args {
				unwrapped[i] = a.Interface()
			}
			impl.Emit(name, unwrapped...)
			return nil
		})
		field.Set(f)
	}
	return nil
}

func (o *objectImpl) Connection() *Connection {
	return o.c
}

func (o *objectImpl) Identifier() string {
	return o.id
}

func (o *objectImpl) Referenced() bool {
	return o.ref
}

// invoke calls the named method of the object, converting or unmarshaling
// parameters as necessary. An error is returned if the method is not
// invoked, or if the method returned one.
func (o *objectImpl) invoke(methodName string, inArgs ...interface{}) error {
	if _, exists := o.typ.Methods[methodName]; !exists {
		return fmt.Errorf("method %s does not exist", methodName)
	}
	method := typeMethodValueByName(reflect.ValueOf(o.object), methodName)
	if !method.IsValid() {
		return fmt.Errorf("method %s does not exist", methodName)
	}
	methodType := method.Type()
	if len(inArgs) != methodType.NumIn() {
		return fmt.Errorf("wrong number of arguments for %s; expected %d, provided %d",
			methodName, methodType.NumIn(), len(inArgs))
	}

	callArgs := make([]reflect.Value, len(inArgs))
	for i, inArg := range inArgs {
		arg, err := o.convertArg(inArg, methodType.In(i))
		if err != nil {
			return fmt.Errorf("argument %d to %s: %w", i, methodName, err)
		}
		callArgs[i] = arg
	}

	errType := reflect.TypeOf((*error)(nil)).Elem()
	for _, value := range method.Call(callArgs) {
		if value.Type().Implements(errType) && !value.IsNil() {
			return value.Interface().(error)
		}
	}
	return nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// convertArg matches a decoded JSON value to argType, converting directly
// or through encoding.TextUnmarshaler. Object references are resolved to
// the registered object.
func (o *objectImpl) convertArg(in interface{}, argType reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(in)
	switch {
	case !v.IsValid():
		return reflect.Zero(argType), nil
	case v.Type() == argType:
		return v, nil
	case argType.Kind() == reflect.Ptr && typeIsQObject(argType.Elem()):
		ref, _ := in.(map[string]interface{})
		if tag, _ := ref["_qbackend_"].(string); tag != "object" {
			return reflect.Value{}, fmt.Errorf("expected object reference, provided %s", v.Type())
		}
		id, _ := ref["identifier"].(string)
		var obj QObject
		if o.c != nil {
			obj = o.c.Object(id)
		}
		if obj == nil {
			return reflect.Value{}, fmt.Errorf("reference to unknown object %s", id)
		}
		if ov := reflect.ValueOf(obj); ov.Type() == argType {
			return ov, nil
		}
		return reflect.Value{}, fmt.Errorf("expected %s, object %s is %T", argType, id, obj)
	case v.Kind() == reflect.String && reflect.PtrTo(argType).Implements(textUnmarshalerType):
		arg := reflect.New(argType)
		if err := arg.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			return reflect.Value{}, fmt.Errorf("expected %s, unmarshal failed: %w", argType, err)
		}
		return arg.Elem(), nil
	case v.Type().ConvertibleTo(argType) && (v.Kind() == reflect.String) == (argType.Kind() == reflect.String):
		return v.Convert(argType), nil
	}
	return reflect.Value{}, fmt.Errorf("expected %s, provided %s", argType, v.Type())
}

func (o *objectImpl) Emit(signal string, args ...interface{}) {
	if !o.Referenced() || o.c == nil {
		return
	}
	if _, err := initObjectsUnder(reflect.ValueOf(args), o.c); err != nil {
		o.c.warn("emit of %s on %s failed: %s", signal, o.id, err)
		return
	}
	o.c.sendEmit(o, signal, args)
}

func (o *objectImpl) Changed(property string) {
	// All property updates are full resets; the client emits the change
	// signals itself.
	o.ResetProperties()
}

func (o *objectImpl) ResetProperties() {
	if !o.Referenced() || o.c == nil {
		return
	}
	o.c.sendUpdate(o)
}

// MarshalJSON encodes the reference to an object that is used where it
// appears in a property or a signal parameter. The object's properties are
// encoded by marshalObject.
func (o *objectImpl) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tag        string    `json:"_qbackend_"`
		Identifier string    `json:"identifier"`
		Type       *typeInfo `json:"type"`
	}{"object", o.id, o.typ})
}

// marshalObject returns the properties of the object, initializing any
// QObject they hold. QObjects do not marshal recursively; they only
// provide a reference.
func (o *objectImpl) marshalObject() (map[string]interface{}, error) {
	data := make(map[string]interface{})
	value := reflect.Indirect(reflect.ValueOf(o.object))
	for name, index := range o.typ.propertyFieldIndex {
		field := value.FieldByIndex(index)
		if _, err := initObjectsUnder(field, o.c); err != nil {
			return nil, err
		}
		data[name] = field.Interface()
	}
	return data, nil
}

// initObjectsUnder scans v for QObjects and initializes them, returning the
// identifiers found. The scan does not descend into QObjects.
func initObjectsUnder(v reflect.Value, c *Connection) ([]string, error) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		if v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Struct {
			if typeIsQObject(v.Elem().Type()) {
				impl, err := initObject(v.Interface(), c)
				if err != nil {
					return nil, err
				}
				return []string{impl.id}, nil
			}
		}
		v = v.Elem()
	}

	var refs []string
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		if !typeCouldContainQObject(v.Type().Elem()) {
			return nil, nil
		}
		for i := 0; i < v.Len(); i++ {
			r, err := initObjectsUnder(v.Index(i), c)
			if err != nil {
				return nil, err
			}
			refs = append(refs, r...)
		}

	case reflect.Map:
		if !typeCouldContainQObject(v.Type().Elem()) {
			return nil, nil
		}
		iter := v.MapRange()
		for iter.Next() {
			r, err := initObjectsUnder(iter.Value(), c)
			if err != nil {
				return nil, err
			}
			refs = append(refs, r...)
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if typeShouldIgnoreField(v.Type().Field(i)) || !typeCouldContainQObject(v.Field(i).Type()) {
				continue
			}
			r, err := initObjectsUnder(v.Field(i), c)
			if err != nil {
				return nil, err
			}
			refs = append(refs, r...)
		}
	}
	return refs, nil
}

func typeCouldContainQObject(t reflect.Type) bool {
	for {
		switch t.Kind() {
		case reflect.Array, reflect.Slice, reflect.Map, reflect.Ptr:
			t = t.Elem()
		case reflect.Struct, reflect.Interface:
			return true
		default:
			return false
		}
	}
}
