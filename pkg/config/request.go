package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/openfroyo/vpcforge/pkg/engine"
)

// provisionRequestSchema constrains request files before they reach the
// engine. Field names follow the JSON form of engine.ProvisionRequest.
const provisionRequestSchema = `
import "strings"

#ProvisionRequest: {
	name:               string & strings.MinRunes(1) & strings.MaxRunes(255)
	address_block:      string & =~"^[0-9]{1,3}(\\.[0-9]{1,3}){3}/[0-9]{1,2}$"
	region:             string & strings.MinRunes(1)
	subdivision_count:  int & >=1 & <=256
	subdivision_names?: [...string & strings.MaxRunes(255)]
}
`

// RequestLoader reads provisioning requests from CUE, JSON or YAML files
// and validates them against the #ProvisionRequest schema.
type RequestLoader struct {
	ctx           *cue.Context
	schema        cue.Value
	defaultRegion string
	mu            sync.Mutex
}

// RequestOption configures a RequestLoader.
type RequestOption func(*RequestLoader)

// WithDefaultRegion fills region when a request file leaves it out.
func WithDefaultRegion(region string) RequestOption {
	return func(l *RequestLoader) {
		l.defaultRegion = region
	}
}

// NewRequestLoader compiles the request schema.
func NewRequestLoader(opts ...RequestOption) (*RequestLoader, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(provisionRequestSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}

	schema := val.LookupPath(cue.ParsePath("#ProvisionRequest"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to find request schema: %w", err)
	}

	l := &RequestLoader{ctx: ctx, schema: schema}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadFile reads and validates the request at path. The format is chosen by
// extension: .cue, .json, .yaml or .yml.
func (l *RequestLoader) LoadFile(path string) (*engine.ProvisionRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	return l.Load(path, content)
}

// Load validates the request in content. name is used for the format and in
// error locations.
func (l *RequestLoader) Load(name string, content []byte) (*engine.ProvisionRequest, error) {
	// cue.Context is not safe for concurrent use.
	l.mu.Lock()
	defer l.mu.Unlock()

	val, err := l.build(name, content)
	if err != nil {
		return nil, err
	}
	if err := val.Err(); err != nil {
		return nil, &RequestError{Source: name, Errors: convertCUEErrors(err)}
	}

	if l.defaultRegion != "" {
		def := l.ctx.CompileString(fmt.Sprintf("region: *%q | string", l.defaultRegion))
		val = def.Unify(val)
	}

	val = l.schema.Unify(val)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &RequestError{Source: name, Errors: convertCUEErrors(err)}
	}

	var req engine.ProvisionRequest
	if err := val.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request %s: %w", name, err)
	}
	return &req, nil
}

func (l *RequestLoader) build(name string, content []byte) (cue.Value, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue":
		return l.ctx.CompileBytes(content, cue.Filename(name)), nil
	case ".json":
		expr, err := cuejson.Extract(name, content)
		if err != nil {
			return cue.Value{}, &RequestError{Source: name, Errors: convertCUEErrors(err)}
		}
		return l.ctx.BuildExpr(expr), nil
	case ".yaml", ".yml":
		file, err := cueyaml.Extract(name, content)
		if err != nil {
			return cue.Value{}, &RequestError{Source: name, Errors: convertCUEErrors(err)}
		}
		return l.ctx.BuildFile(file), nil
	default:
		return cue.Value{}, fmt.Errorf("unsupported request format %q", ext)
	}
}

// convertCUEErrors flattens a CUE error list into ValidationErrors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path: strings.Join(requestPath(e.Path()), "."),
		}

		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)

		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}

		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// requestPath drops the schema definition prefix so paths name request fields.
func requestPath(path []string) []string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return path
}
