package backend

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Simple struct {
	Simple string
}

type Fields struct {
	String    string
	Bytes     []byte
	Strings   []string
	Map       map[string]string
	Struct    Simple
	Ptr       *Simple
	Object    *TestStruct
	Interface interface{}
	Rate      float64
	Named     string `json:"renamed"`
}

type TestStruct struct {
	QObject
	Fields

	unexported  bool
	Ignored     bool `qbackend:"-"`
	IgnoredJSON bool `json:"-"`

	Signal       func()
	SignalParams func(a, b int) `qbackend:"a,b"`
}

func (t *TestStruct) RealMethod(arg1 int, arg2 []string) (*TestStruct, error) {
	return t, nil
}

func TestParseTypes(t *testing.T) {
	info, err := parseType(reflect.TypeOf(TestStruct{}))
	require.NoError(t, err)
	t.Logf("parsed type: %s", info)

	assert.Equal(t, "TestStruct", info.Name)
	assert.Equal(t, map[string]string{
		"string":    "string",
		"bytes":     "array",
		"strings":   "array",
		"map":       "map",
		"struct":    "map",
		"ptr":       "map",
		"object":    "object",
		"interface": "var",
		"rate":      "double",
		"renamed":   "string",
	}, info.Properties)

	assert.Equal(t, map[string][]string{"realMethod": {"int", "array"}}, info.Methods)

	expectSignal := []string{"signal", "signalParams"}
	for p := range info.Properties {
		expectSignal = append(expectSignal, typeFieldChangedName(p))
	}
	assert.Len(t, info.Signals, len(expectSignal))
	for _, s := range expectSignal {
		assert.Contains(t, info.Signals, s)
	}
	assert.Equal(t, []string{"int a", "int b"}, info.Signals["signalParams"])
	assert.Empty(t, info.Signals["stringChanged"])

	// Pointer types share the parsed info
	again, err := parseType(reflect.TypeOf(&TestStruct{}))
	require.NoError(t, err)
	assert.Same(t, info, again)
}

func TestParseNotQObject(t *testing.T) {
	_, err := parseType(reflect.TypeOf(Simple{}))
	assert.Error(t, err)
}

type BadSignalNames struct {
	QObject
	Broken func(int, int) `qbackend:"one"`
}

type BadChangeSignal struct {
	QObject
	Value        int
	ValueChanged func(int) `qbackend:"v"`
}

func TestParseInvalidSignals(t *testing.T) {
	_, err := parseType(reflect.TypeOf(BadSignalNames{}))
	assert.Error(t, err)

	_, err = parseType(reflect.TypeOf(BadChangeSignal{}))
	assert.Error(t, err)
}

func TestModelMethodsHidden(t *testing.T) {
	info, err := parseType(reflect.TypeOf(DimensionModel{}))
	require.NoError(t, err)

	assert.Empty(t, info.Methods)
	assert.Contains(t, info.Properties, "_qb_model")
	assert.Contains(t, info.Properties, "dimension")
	assert.Contains(t, info.Properties, "enabled")

	api, err := parseType(reflect.TypeOf(modelAPI{}))
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"reset":        {},
		"requestRows":  {"int", "int"},
		"setBatchSize": {"int"},
	}, api.Methods)
	assert.Equal(t, []string{"int start", "int end"}, api.Signals["modelRemove"])
}
