// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package message validates generic configuration trees, as produced by
// decoding JSON or TOML into interface{}, and converts them into typed structs.
package message

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stockparfait/errors"
	"golang.org/x/exp/slices"
)

// Message is a struct (pointer) which can initialize itself from a generic
// configuration tree, typically by calling Init:
//
//   type Config struct {
//     Host    string   `json:"host" required:"true"`
//     Variant string   `json:"variant" default:"columns" choices:"columns,partitions"`
//     Workers int      `json:"workers" default:"1"`
//     IDs     []string `json:"datasets"`
//   }
//
//   func (c *Config) InitMessage(js interface{}) error {
//     return message.Init(c, js)
//   }
type Message interface {
	// InitMessage populates the message from a map[string]interface{} tree,
	// checking required fields, setting defaults and rejecting unknown fields.
	InitMessage(js interface{}) error
}

var messageType = reflect.TypeOf((*Message)(nil)).Elem()

// initNested calls InitMessage of a new instance of the pointer type t.
func initNested(v interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Kind() != reflect.Ptr {
		return reflect.Value{}, errors.Reason(
			"type %s implements Message but is not a pointer", t.Name())
	}
	ptr := reflect.New(t.Elem())
	if err := ptr.Interface().(Message).InitMessage(v); err != nil {
		return reflect.Value{}, errors.Annotate(err, "%s.InitMessage() failed", t.Elem().Name())
	}
	return ptr, nil
}

// number extracts a numeric value decoded from either JSON (float64) or TOML
// (int64).
func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

// convert recursively converts a tree value v to the type t. A nil v yields
// the zero value, except for nested Messages which get their defaults.
func convert(v interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Implements(messageType) {
		if v == nil {
			return reflect.Zero(t), nil
		}
		return initNested(v, t)
	}
	if pt := reflect.PtrTo(t); pt.Implements(messageType) {
		if v == nil {
			v = map[string]interface{}{}
		}
		ptr, err := initNested(v, pt)
		if err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}
	if v == nil {
		return reflect.Zero(t), nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		elem, err := convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	case reflect.Bool:
		if b, ok := v.(bool); ok {
			return reflect.ValueOf(b), nil
		}
		return reflect.Value{}, errors.Reason("not a bool: %v", v)
	case reflect.Int:
		x, ok := number(v)
		if !ok || x != float64(int(x)) {
			return reflect.Value{}, errors.Reason("not an integer: %v", v)
		}
		return reflect.ValueOf(int(x)), nil
	case reflect.Float64:
		if x, ok := number(v); ok {
			return reflect.ValueOf(x), nil
		}
		return reflect.Value{}, errors.Reason("not a number: %v", v)
	case reflect.String:
		if s, ok := v.(string); ok {
			return reflect.ValueOf(s), nil
		}
		return reflect.Value{}, errors.Reason("not a string: %v", v)
	case reflect.Slice:
		list, ok := v.([]interface{})
		if !ok {
			if strs, isStrs := v.([]string); isStrs {
				list = make([]interface{}, len(strs))
				for i, s := range strs {
					list[i] = s
				}
				ok = true
			}
		}
		if !ok {
			return reflect.Value{}, errors.Reason("not a list: %v", v)
		}
		res := reflect.MakeSlice(t, len(list), len(list))
		for i, el := range list {
			ev, err := convert(el, t.Elem())
			if err != nil {
				return reflect.Value{}, errors.Annotate(err, "element %d", i)
			}
			res.Index(i).Set(ev)
		}
		return res, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return reflect.Value{}, errors.Reason("map[%s] is not supported", t.Key().Kind())
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return reflect.Value{}, errors.Reason("not a map: %v", v)
		}
		res := reflect.MakeMapWithSize(t, len(m))
		for k, el := range m {
			ev, err := convert(el, t.Elem())
			if err != nil {
				return reflect.Value{}, errors.Annotate(err, "key '%s'", k)
			}
			res.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return res, nil
	}
	return reflect.Value{}, errors.Reason("unsupported type: %s", t)
}

// parseDefault converts the value of a `default` tag to the type t.
func parseDefault(s string, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Ptr:
		elem, err := parseDefault(s, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, errors.Annotate(err, "invalid bool value: %s", s)
		}
		return reflect.ValueOf(b), nil
	case reflect.Int:
		i, err := strconv.Atoi(s)
		if err != nil {
			return reflect.Value{}, errors.Annotate(err, "invalid int value: %s", s)
		}
		return reflect.ValueOf(i), nil
	case reflect.Float64:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reflect.Value{}, errors.Annotate(err, "invalid float64 value: %s", s)
		}
		return reflect.ValueOf(x), nil
	case reflect.String:
		return reflect.ValueOf(s), nil
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			break
		}
		var parts []string
		if s != "" {
			parts = strings.Split(s, ",")
		}
		return reflect.ValueOf(parts).Convert(t), nil
	}
	return reflect.Value{}, errors.Reason("default value is not supported for %s", t)
}

// assign sets the field to v after checking its `choices` tag.
func assign(f reflect.StructField, field, v reflect.Value) error {
	if choices, ok := f.Tag.Lookup("choices"); ok {
		if f.Type.Kind() != reflect.String {
			return errors.Reason("choices tag applied to a non-string field: %s", f.Name)
		}
		if s := v.String(); !StringIn(s, strings.Split(choices, ",")...) {
			return errors.Reason("value for %s is not in its choice list: '%s'", f.Name, s)
		}
	}
	field.Set(v)
	return nil
}

// keyName returns the tree key of an exported struct field, or "" when the
// field does not take part in the message.
func keyName(f reflect.StructField) string {
	if r, _ := utf8.DecodeRuneInString(f.Name); !unicode.IsUpper(r) {
		return ""
	}
	name := f.Name
	if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag == "-" {
		return ""
	} else if tag != "" {
		name = tag
	}
	return name
}

// Init populates the struct pointed to by m from a generic tree js, which must
// be a map[string]interface{}. Struct tags control the conversion:
//
//   `json:"key"`            the key in the tree; default is the field name,
//                           "-" excludes the field
//   `required:"true"`      the key must be present
//   `default:"value"`      the value when the key is absent; for []string the
//                           value is comma-separated
//   `choices:"one,two"`    allowed values of a string field, checked also for
//                           defaults and zero values
//
// Keys of the tree that match no field are an error. Numbers may come as
// float64 (JSON) or int64 (TOML).
func Init(m Message, js interface{}) error {
	rt := reflect.TypeOf(m)
	if rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return errors.Reason("expected a struct pointer, got %s", rt)
	}
	if js == nil {
		return errors.Reason("configuration is nil")
	}
	tree, ok := js.(map[string]interface{})
	if !ok {
		return errors.Reason("configuration is not a map: %v", js)
	}
	st := rt.Elem()
	sv := reflect.ValueOf(m).Elem()

	known := make(map[string]bool)
	var missing []string
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		key := keyName(f)
		if key == "" {
			continue
		}
		known[key] = true
		field := sv.Field(i)

		if v, ok := tree[key]; ok {
			cv, err := convert(v, f.Type)
			if err != nil {
				return errors.Annotate(err, "invalid value for '%s'", key)
			}
			if err := assign(f, field, cv); err != nil {
				return err
			}
			continue
		}
		if f.Tag.Get("required") == "true" {
			missing = append(missing, key)
			continue
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			dv, err := parseDefault(def, f.Type)
			if err != nil {
				return errors.Annotate(err, "bad default for %s", f.Name)
			}
			if err := assign(f, field, dv); err != nil {
				return err
			}
			continue
		}
		zv, err := convert(nil, f.Type)
		if err != nil {
			return errors.Annotate(err, "failed to create zero value for %s", f.Name)
		}
		if err := assign(f, field, zv); err != nil {
			return errors.Annotate(err, "error setting zero value for %s", f.Name)
		}
	}
	if len(missing) > 0 {
		return errors.Reason("missing required fields: %s", strings.Join(missing, ", "))
	}
	var unknown []string
	for k := range tree {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return errors.Reason("unsupported fields for %s: %s",
			st.Name(), strings.Join(unknown, ", "))
	}
	return nil
}

// StringIn checks that s equals one of the values.
func StringIn(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
