package expression

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

func (e *Expression) UnmarshalJSON(b []byte) error {
	// null would unmarshal into any scalar below
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*e = Expression{Op: "@null"}
		return nil
	}

	// try to unmarshal as a bool terminal expression
	bv := false
	if err := json.Unmarshal(b, &bv); err == nil {
		*e = Expression{Op: "@bool", Literal: bv}
		return nil
	}

	// try to unmarshal as an int terminal expression
	var iv int64 = 0
	if err := json.Unmarshal(b, &iv); err == nil {
		*e = Expression{Op: "@int", Literal: iv}
		return nil
	}

	// try to unmarshal as a float terminal expression
	fv := 0.0
	if err := json.Unmarshal(b, &fv); err == nil {
		*e = Expression{Op: "@float", Literal: fv}
		return nil
	}

	// try to unmarshal as a string terminal expression
	sv := ""
	if err := json.Unmarshal(b, &sv); err == nil {
		*e = Expression{Op: "@string", Literal: sv}
		return nil
	}

	// try to unmarshal as a literal list expression
	mv := []Expression{}
	if err := json.Unmarshal(b, &mv); err == nil {
		*e = Expression{Op: "@list", Literal: mv}
		return nil
	}

	// try to unmarshal as an operator: a single key that starts with @
	cv := map[string]Expression{}
	if err := json.Unmarshal(b, &cv); err == nil && len(cv) == 1 {
		for op, arg := range cv {
			if len(op) < 2 || op[0] != '@' {
				break
			}
			*e = Expression{Op: op, Arg: &arg}
			return nil
		}
	}

	return NewUnmarshalError("expression", string(b))
}

func (e *Expression) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case "@null":
		return []byte("null"), nil

	case "@bool":
		if e.Arg != nil {
			// keep the op for a correct round-trip (conversion)
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		v, err := AsBool(e.Literal)
		if err != nil {
			return []byte(""), err
		}
		return json.Marshal(v)

	case "@int":
		if e.Arg != nil {
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		v, err := AsInt(e.Literal)
		if err != nil {
			return []byte(""), err
		}
		return json.Marshal(v)

	case "@float":
		if e.Arg != nil {
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		v, err := AsFloat(e.Literal)
		if err != nil {
			return []byte(""), err
		}
		return json.Marshal(v)

	case "@string":
		if e.Arg != nil {
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		v, err := AsString(e.Literal)
		if err != nil {
			return []byte(""), err
		}
		return json.Marshal(v)

	case "@list":
		if e.Arg != nil {
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		es, ok := e.Literal.([]Expression)
		if !ok {
			return []byte(""), errors.Newf("invalid expression list: %#v", e)
		}
		return json.Marshal(es)

	default:
		// everything else is a valid op
		if len(e.Op) == 0 || e.Op[0] != '@' {
			return []byte(""), errors.Newf("expected an op starting with @, got %#v", e)
		}

		ret := map[string]*Expression{e.Op: e.Arg}
		return json.Marshal(ret)
	}
}

func (e *Expression) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}

// Parse parses a serialized expression.
func Parse(b []byte) (*Expression, error) {
	e := &Expression{}
	if err := json.Unmarshal(b, e); err != nil {
		if errors.Is(err, ErrUnmarshal) {
			return nil, err
		}
		return nil, errors.Mark(errors.Wrap(err, "invalid expression"), ErrUnmarshal)
	}
	return e, nil
}
