package codec

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/aretw0/pocket/pkg/core"
)

// SplitBundle returns the top-level members of a JSON array bundle.
// Members are tokenized, so braces inside string values are fine.
func SplitBundle(data []byte) ([][]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return splitArray(data)
}

func splitArray(data []byte) ([][]byte, error) {
	iter := jsoniter.ParseBytes(jsonAPI, data)
	if next := iter.WhatIsNext(); next != jsoniter.ArrayValue {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var members [][]byte
	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			return false
		}
		members = append(members, bytes.TrimSpace(raw))
		return true
	})
	if iter.Error != nil {
		return nil, fmt.Errorf("invalid bundle: %w", iter.Error)
	}
	return members, nil
}

// ClassOf reads the type tag of an encoded member.
func ClassOf(member []byte) (string, error) {
	var class string
	err := forEachField(member, func(key string, raw []byte) error {
		if key == core.KeyClass {
			return jsonAPI.Unmarshal(raw, &class)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if class == "" {
		return "", fmt.Errorf("member without %s", core.KeyClass)
	}
	return class, nil
}
