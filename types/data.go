package types

import (
	"encoding/json"
	"sort"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Data is a loosely typed map, carrying the tags of events and meters.
type Data map[string]any

func (d Data) Get(key string) (any, bool) {
	v, exists := d[key]
	return v, exists
}

func (d Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFound
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.New("marshal failed"))
	}
	return json.Unmarshal(b, s)
}

func (d Data) Set(key string, value any) Data {
	d[key] = value
	return d
}

// With returns a copy of the data with the key set.
func (d Data) With(key string, value any) Data {
	c := make(Data, len(d)+1)
	for k, v := range d {
		c[k] = v
	}
	c[key] = value
	return c
}

// Strings converts every value to a string.
func (d Data) Strings() map[string]string {
	m := make(map[string]string, len(d))
	for key, value := range d {
		m[key] = cast.ToString(value)
	}
	return m
}

// Keys returns the sorted keys.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d))
	for key := range d {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
