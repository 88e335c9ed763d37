package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/engine"
)

// Body keys. Each field accepts its current key first and the key used by
// earlier clients second.
var (
	nameKeys         = []string{"name", "vpc_name"}
	addressBlockKeys = []string{"address_block", "cidr_block"}
	regionKeys       = []string{"region"}
	countKeys        = []string{"subdivision_count", "subnet_to_be_created"}
	labelPrefixes    = []string{"subdivision_name_", "subnet_name_"}
)

// decodeProvisionRequest builds a ProvisionRequest from a POST body. It only
// checks types; field validation is left to the engine.
func decodeProvisionRequest(body []byte) (*engine.ProvisionRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("request body must be a single JSON object")
	}

	req := &engine.ProvisionRequest{}
	var err error

	if req.Name, err = stringField(fields, nameKeys); err != nil {
		return nil, err
	}
	if req.AddressBlock, err = stringField(fields, addressBlockKeys); err != nil {
		return nil, err
	}
	if req.Region, err = stringField(fields, regionKeys); err != nil {
		return nil, err
	}
	if req.SubdivisionCount, err = intField(fields, countKeys); err != nil {
		return nil, err
	}

	if req.SubdivisionNames, err = subdivisionNames(fields, req.SubdivisionCount); err != nil {
		return nil, err
	}

	return req, nil
}

func lookup(fields map[string]any, keys []string) (string, any, bool) {
	for _, key := range keys {
		if v, ok := fields[key]; ok && v != nil {
			return key, v, true
		}
	}
	return "", nil, false
}

func stringField(fields map[string]any, keys []string) (string, error) {
	key, v, ok := lookup(fields, keys)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

func intField(fields map[string]any, keys []string) (int, error) {
	key, v, ok := lookup(fields, keys)
	if !ok {
		return 0, nil
	}

	var raw string
	switch n := v.(type) {
	case json.Number:
		raw = n.String()
	case string:
		raw = strings.TrimSpace(n)
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}

	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return i, nil
}

// subdivisionNames reads the 1-based subdivision_name_N keys up to count.
// Keys beyond count are ignored. The result is nil when no name is given.
func subdivisionNames(fields map[string]any, count int) ([]string, error) {
	if list, ok := fields["subdivision_names"]; ok && list != nil {
		items, ok := list.([]any)
		if !ok {
			return nil, fmt.Errorf("subdivision_names must be a list of strings")
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("subdivision_names must be a list of strings")
			}
			names = append(names, s)
		}
		return names, nil
	}

	if count < 1 || count > addressing.MaxSubdivisions {
		return nil, nil
	}

	names := make([]string, count)
	found := false
	for i := range names {
		keys := make([]string, len(labelPrefixes))
		for j, prefix := range labelPrefixes {
			keys[j] = prefix + strconv.Itoa(i+1)
		}
		name, err := stringField(fields, keys)
		if err != nil {
			return nil, err
		}
		if name != "" {
			names[i] = name
			found = true
		}
	}

	if !found {
		return nil, nil
	}
	return names, nil
}
