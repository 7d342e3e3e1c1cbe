package binder

import (
	"bytes"
	"fmt"

	errspkg "github.com/drblury/protobus/internal/runtime/errors"
)

var nullValue = Value("null")

// Bind assigns the payload to the parameters in shape. A mismatch is returned
// as *errors.BindingError; Bind never panics on caller supplied data.
//
// The owning receiver of a method handler is never part of shape: it is
// captured by the method value given at registration.
func Bind(payload Payload, shape Shape) (Arguments, error) {
	args := newArguments(shape)
	if len(shape) == 0 {
		return args, nil
	}

	var err error
	switch payload.Kind {
	case KindAbsent, KindScalar:
		err = bindScalar(&args, payload)
	case KindSequence:
		err = bindSequence(&args, payload.Sequence)
	case KindMapping:
		err = bindMapping(&args, payload.Mapping, false)
	case KindMixed:
		err = bindMixed(&args, payload)
	default:
		err = fmt.Errorf("unsupported payload kind %d", payload.Kind)
	}
	if err != nil {
		return Arguments{}, &errspkg.BindingError{Shape: shape.Names(), Reason: err.Error()}
	}
	if err := args.checkRequired(); err != nil {
		return Arguments{}, &errspkg.BindingError{Shape: shape.Names(), Reason: err.Error()}
	}
	return args, nil
}

func bindScalar(args *Arguments, payload Payload) error {
	required := args.shape.RequiredCount()
	if required > 1 {
		return fmt.Errorf("%s payload cannot fill %d required parameters", payload.Kind, required)
	}
	if payload.Kind == KindAbsent && required == 0 {
		return nil
	}

	target := 0
	if required == 1 {
		for i, p := range args.shape {
			if !p.HasDefault {
				target = i
				break
			}
		}
	}

	value := payload.Scalar
	if len(value) == 0 {
		value = nullValue
	}
	args.set(target, value)
	return nil
}

func bindSequence(args *Arguments, seq []Value) error {
	if required := args.shape.RequiredCount(); required > len(seq) {
		return fmt.Errorf("sequence of %d values cannot fill %d required parameters", len(seq), required)
	}
	if len(args.shape) == 1 && len(seq) > 1 {
		args.set(0, joinArray(seq))
		return nil
	}
	zip(args, seq)
	return nil
}

func bindMapping(args *Arguments, mapping map[string]Value, skipBound bool) error {
	for i, p := range args.shape {
		value, ok := mapping[p.Name]
		if skipBound && args.bound[i] {
			if ok {
				return fmt.Errorf("parameter %q given both positionally and by key", p.Name)
			}
			continue
		}
		if ok {
			args.set(i, value)
			continue
		}
		if !p.HasDefault {
			return fmt.Errorf("missing required key %q", p.Name)
		}
	}
	return nil
}

func bindMixed(args *Arguments, payload Payload) error {
	if len(payload.Sequence) > len(args.shape) {
		return fmt.Errorf("%d positional values for %d parameters", len(payload.Sequence), len(args.shape))
	}
	zip(args, payload.Sequence)
	return bindMapping(args, payload.Mapping, true)
}

func zip(args *Arguments, seq []Value) {
	for i := 0; i < len(seq) && i < len(args.shape); i++ {
		value := seq[i]
		if len(value) == 0 {
			value = nullValue
		}
		args.set(i, value)
	}
}

func joinArray(seq []Value) Value {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range seq {
		if i > 0 {
			buf.WriteByte(',')
		}
		if len(v) == 0 {
			v = nullValue
		}
		buf.Write(v)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
