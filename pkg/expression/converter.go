package expression

import (
	"reflect"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/util"
)

func IsList(d any) bool {
	dv := reflect.ValueOf(d)
	return dv.Kind() == reflect.Slice || dv.Kind() == reflect.Array
}

func AsList(d any) ([]any, error) {
	if !IsList(d) {
		return nil, errors.Newf("argument is not a list: %s", util.Stringify(d))
	}

	ret, ok := d.([]any)
	if !ok {
		return nil, errors.Newf("failed to convert argument into a list: %s", util.Stringify(d))
	}

	return ret, nil
}

func AsBinaryList(d any) ([]any, error) {
	vs, err := AsList(d)
	if err != nil {
		return nil, err
	}

	if len(vs) != 2 {
		return nil, errors.Newf("invalid number of arguments for a binary operator: %d", len(vs))
	}

	return vs, nil
}

func AsBool(d any) (bool, error) {
	if d == nil {
		return false, errors.New("argument is nil")
	}

	if b, ok := d.(bool); ok {
		return b, nil
	}
	return false, errors.Newf("argument is not a boolean: %s", util.Stringify(d))
}

func AsBoolList(d any) ([]bool, error) {
	vs, err := AsList(d)
	if err != nil {
		return nil, err
	}

	ret := make([]bool, 0, len(vs))
	for _, v := range vs {
		arg, err := AsBool(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

// AsString converts strings and numbers to a string.
func AsString(d any) (string, error) {
	switch v := d.(type) {
	case nil:
		return "", errors.New("argument is nil")
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}

	return "", errors.Newf("argument is not a string: %s", util.Stringify(d))
}

func AsStringList(d any) ([]string, error) {
	vs, err := AsList(d)
	if err != nil {
		return nil, err
	}

	ret := make([]string, 0, len(vs))
	for _, v := range vs {
		arg, err := AsString(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

func AsBinaryStringList(d any) ([]string, error) {
	vs, err := AsStringList(d)
	if err != nil {
		return nil, err
	}

	if len(vs) != 2 {
		return nil, errors.Newf("invalid number of arguments for a binary operator: %d", len(vs))
	}

	return vs, nil
}

// AsInt converts integers and strings holding an integer to an int64.
func AsInt(d any) (int64, error) {
	if d == nil {
		return 0, errors.New("argument is nil")
	}

	switch reflect.ValueOf(d).Kind() { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(d).Int(), nil
	case reflect.String:
		if i, err := strconv.ParseInt(d.(string), 10, 64); err == nil {
			return i, nil
		}
	}

	return 0, errors.Newf("argument is not an int: %s", util.Stringify(d))
}

func AsIntList(d any) ([]int64, error) {
	vs, err := AsList(d)
	if err != nil {
		return nil, err
	}

	ret := make([]int64, 0, len(vs))
	for _, v := range vs {
		arg, err := AsInt(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

// AsFloat converts numbers and strings holding a number to a float64.
func AsFloat(d any) (float64, error) {
	if d == nil {
		return 0, errors.New("argument is nil")
	}

	dv := reflect.ValueOf(d)
	switch dv.Kind() { //nolint:exhaustive
	case reflect.Float32, reflect.Float64:
		return dv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(dv.Int()), nil
	case reflect.String:
		if f, err := strconv.ParseFloat(d.(string), 64); err == nil {
			return f, nil
		}
	}

	return 0, errors.Newf("argument is not a float: %s", util.Stringify(d))
}

// AsIntOrFloatList converts a list of numbers. If every element is an integer the integers are
// returned, otherwise the floats.
func AsIntOrFloatList(d any) ([]int64, []float64, reflect.Kind, error) {
	vs, err := AsList(d)
	if err != nil {
		return nil, nil, reflect.Invalid, err
	}

	kind := reflect.Int64
	is, fs := make([]int64, 0, len(vs)), make([]float64, 0, len(vs))
	for _, v := range vs {
		switch x := v.(type) {
		case int64:
			is = append(is, x)
			fs = append(fs, float64(x))
		case float64:
			kind = reflect.Float64
			fs = append(fs, x)
		default:
			return nil, nil, reflect.Invalid, errors.Newf("argument is not a number: %s", util.Stringify(v))
		}
	}

	if kind == reflect.Float64 {
		return nil, fs, kind, nil
	}
	return is, nil, kind, nil
}
