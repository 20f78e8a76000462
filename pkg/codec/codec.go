// Package codec turns entities into the JSON members stored in bundle files
// and back. Nested references are written as proxy tokens:
//
//	{
//	  "op_class": "model.Person",
//	  "op_id": "op_ref:email",
//	  "email": "ada@example.com",
//	  "address": {"op_ref": "9b2c...@model.Address"}
//	}
//
// On decode every proxy token becomes a placeholder instance of the field's
// element type; the caller swaps placeholders for the loaded entities.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var null = []byte("null")

// Options controls the encoded form.
type Options struct {
	// Pretty indents members with two spaces.
	Pretty bool
	// SerializeNulls keeps fields whose value is null.
	SerializeNulls bool
}

// Resolver returns the proxy token of a referenced entity.
type Resolver func(target any) (core.ProxyToken, error)

// Codec encodes and decodes registered entities.
type Codec struct {
	registry *entity.Registry
	opts     Options
}

// New creates a codec over the given registry.
func New(registry *entity.Registry, opts Options) *Codec {
	return &Codec{registry: registry, opts: opts}
}

type proxyBody struct {
	Ref string `json:"op_ref"`
}

// Encode writes obj with its type and identifier tags. When isRoot is false
// only the proxy token of obj is written.
func (c *Codec) Encode(obj any, id string, isRoot bool, resolve Resolver) ([]byte, error) {
	d, err := c.registry.DescriptorOf(obj)
	if err != nil {
		return nil, err
	}
	if !isRoot {
		return encodeProxy(core.ProxyToken{Type: d.Name, ID: id})
	}

	// Marshal a copy whose reference fields are cleared; references are
	// rendered as tokens below and must never be followed by the marshaler.
	src := reflect.ValueOf(obj).Elem()
	cp := reflect.New(d.Type).Elem()
	cp.Set(src)
	for _, ref := range d.Refs {
		f := cp.Field(ref.Index)
		f.Set(reflect.Zero(f.Type()))
	}
	body, err := jsonAPI.Marshal(cp.Addr().Interface())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", d.Name, err)
	}

	idTag := id
	if custom, ok := d.IDValue(obj); ok && custom != "" && custom == id {
		idTag = core.RefPrefix + d.ID.Key
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeMember(&buf, core.KeyClass, quote(d.Name), true)
	writeMember(&buf, core.KeyID, quote(idTag), false)

	written := make(map[string]bool, len(d.Refs))
	err = forEachField(body, func(key string, raw []byte) error {
		if ref, ok := d.RefByKey(key); ok {
			written[key] = true
			tokens, err := encodeRef(src, ref, resolve)
			if err != nil {
				return fmt.Errorf("field %s: %w", ref.Name, err)
			}
			raw = tokens
		}
		if !c.opts.SerializeNulls && bytes.Equal(raw, null) {
			return nil
		}
		writeMember(&buf, key, raw, false)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", d.Name, err)
	}

	// References dropped by omitempty only come back when they point somewhere.
	for i := range d.Refs {
		ref := &d.Refs[i]
		if written[ref.Key] {
			continue
		}
		tokens, err := encodeRef(src, ref, resolve)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s field %s: %w", d.Name, ref.Name, err)
		}
		if bytes.Equal(tokens, null) {
			continue
		}
		writeMember(&buf, ref.Key, tokens, false)
	}
	buf.WriteByte('}')

	if !c.opts.Pretty {
		return buf.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent %s: %w", d.Name, err)
	}
	return out.Bytes(), nil
}

func encodeRef(v reflect.Value, ref *entity.Ref, resolve Resolver) ([]byte, error) {
	fv := v.Field(ref.Index)
	if ref.Kind == entity.RefScalar {
		if fv.IsNil() {
			return null, nil
		}
		return resolveProxy(fv.Interface(), resolve)
	}
	if ref.Kind == entity.RefCollection && fv.IsNil() {
		return null, nil
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < fv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		e := fv.Index(i)
		if e.IsNil() {
			buf.Write(null)
			continue
		}
		tok, err := resolveProxy(e.Interface(), resolve)
		if err != nil {
			return nil, err
		}
		buf.Write(tok)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func resolveProxy(target any, resolve Resolver) ([]byte, error) {
	if resolve == nil {
		return nil, fmt.Errorf("no resolver for reference to %T", target)
	}
	tok, err := resolve(target)
	if err != nil {
		return nil, err
	}
	return encodeProxy(tok)
}

func encodeProxy(tok core.ProxyToken) ([]byte, error) {
	return jsonAPI.Marshal(proxyBody{Ref: tok.Ref()})
}

// Decode builds an entity of typeName from one member. onDecoded receives the
// entity and its identifier; onPlaceholder receives every placeholder set on
// a reference field together with the token it stands for. Either may be nil.
func (c *Codec) Decode(raw []byte, typeName string, onDecoded func(obj any, id string), onPlaceholder func(placeholder any, tok core.ProxyToken)) (any, error) {
	d, err := c.registry.DescriptorByName(typeName)
	if err != nil {
		return nil, err
	}

	var (
		class, idTag string
		refs         = make(map[string][]byte)
		rest         bytes.Buffer
		first        = true
	)
	rest.WriteByte('{')
	err = forEachField(raw, func(key string, value []byte) error {
		switch key {
		case core.KeyClass:
			return jsonAPI.Unmarshal(value, &class)
		case core.KeyID:
			return jsonAPI.Unmarshal(value, &idTag)
		}
		if _, ok := d.RefByKey(key); ok {
			refs[key] = value
			return nil
		}
		writeMember(&rest, key, value, first)
		first = false
		return nil
	})
	rest.WriteByte('}')
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", typeName, err)
	}
	if class != typeName {
		return nil, fmt.Errorf("type tag %q does not match %q", class, typeName)
	}
	if idTag == "" {
		return nil, fmt.Errorf("%s member without %s", typeName, core.KeyID)
	}

	obj := d.New()
	if err := jsonAPI.Unmarshal(rest.Bytes(), obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", typeName, err)
	}

	id := idTag
	if key, ok := strings.CutPrefix(idTag, core.RefPrefix); ok {
		if d.ID == nil || d.ID.Key != key {
			return nil, fmt.Errorf("%s has no identifier field %q", typeName, key)
		}
		id, _ = d.IDValue(obj)
	}

	v := reflect.ValueOf(obj).Elem()
	for key, value := range refs {
		ref, _ := d.RefByKey(key)
		if err := c.decodeRef(v.Field(ref.Index), ref, value, onPlaceholder); err != nil {
			return nil, fmt.Errorf("failed to decode %s field %s: %w", typeName, ref.Name, err)
		}
	}

	if onDecoded != nil {
		onDecoded(obj, id)
	}
	return obj, nil
}

func (c *Codec) decodeRef(fv reflect.Value, ref *entity.Ref, raw []byte, onPlaceholder func(any, core.ProxyToken)) error {
	if bytes.Equal(raw, null) {
		return nil
	}
	if ref.Kind == entity.RefScalar {
		ph, err := c.placeholder(ref, raw, onPlaceholder)
		if err != nil {
			return err
		}
		fv.Set(ph)
		return nil
	}

	elems, err := splitArray(raw)
	if err != nil {
		return err
	}
	if ref.Kind == entity.RefCollection {
		fv.Set(reflect.MakeSlice(fv.Type(), len(elems), len(elems)))
	}
	for i, e := range elems {
		if i >= fv.Len() {
			break
		}
		if bytes.Equal(e, null) {
			continue
		}
		ph, err := c.placeholder(ref, e, onPlaceholder)
		if err != nil {
			return err
		}
		fv.Index(i).Set(ph)
	}
	return nil
}

func (c *Codec) placeholder(ref *entity.Ref, raw []byte, onPlaceholder func(any, core.ProxyToken)) (reflect.Value, error) {
	var body proxyBody
	if err := jsonAPI.Unmarshal(raw, &body); err != nil {
		return reflect.Value{}, fmt.Errorf("invalid proxy token: %w", err)
	}
	tok, err := core.ParseProxy(body.Ref)
	if err != nil {
		return reflect.Value{}, err
	}

	ph := reflect.New(ref.Elem)
	if d, err := c.registry.Describe(ref.Elem); err == nil {
		d.SetID(ph.Interface(), tok.ID)
	}
	if onPlaceholder != nil {
		onPlaceholder(ph.Interface(), tok)
	}
	return ph, nil
}

func writeMember(buf *bytes.Buffer, key string, raw []byte, first bool) {
	if !first {
		buf.WriteByte(',')
	}
	buf.Write(quote(key))
	buf.WriteByte(':')
	buf.Write(raw)
}

func quote(s string) []byte {
	b, _ := jsonAPI.Marshal(s)
	return b
}

// forEachField walks the members of a JSON object in document order.
func forEachField(data []byte, fn func(key string, raw []byte) error) error {
	iter := jsoniter.ParseBytes(jsonAPI, data)
	var cbErr error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			return false
		}
		if err := fn(key, bytes.TrimSpace(raw)); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	if iter.Error != nil {
		return fmt.Errorf("invalid json object: %w", iter.Error)
	}
	return nil
}
