// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/vpcforge/pkg/provider"
)

// Call is one recorded provider call.
type Call struct {
	Op     string
	Region string
	ID     string
	Name   string
}

// Network is a network held by the fake.
type Network struct {
	ID           string
	AddressBlock string
	Region       string
	ClaimToken   string
	Label        string
}

// Subdivision is a subdivision held by the fake.
type Subdivision struct {
	ID           string
	NetworkID    string
	AddressBlock string
	Label        string
}

// Fake is a concurrency-safe in-memory provider with failure injection.
type Fake struct {
	mu sync.Mutex

	networks     map[string]*Network
	subdivisions map[string]*Subdivision
	order        []string
	calls        []Call
	nextID       int
	subCreates   int

	// Errors maps an operation name to the error every call of it returns.
	Errors map[string]error

	// FailSubdivisionAt makes the n-th CreateSubdivision call (0-based)
	// fail. Negative disables it.
	FailSubdivisionAt int

	// LoseNetworkResponse makes CreateNetwork create the network and then
	// report failure, like a timeout after the server acted.
	LoseNetworkResponse bool

	// OnCreateNetwork, when set, runs before a network is created.
	OnCreateNetwork func(ctx context.Context)
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		networks:          make(map[string]*Network),
		subdivisions:      make(map[string]*Subdivision),
		Errors:            make(map[string]error),
		FailSubdivisionAt: -1,
	}
}

var _ provider.Provider = (*Fake)(nil)

// Name implements provider.Provider.
func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) record(op, region, id, name string) error {
	f.calls = append(f.calls, Call{Op: op, Region: region, ID: id, Name: name})
	return f.Errors[op]
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

// CreateNetwork implements provider.Provider.
func (f *Fake) CreateNetwork(ctx context.Context, spec provider.NetworkSpec) (string, error) {
	if f.OnCreateNetwork != nil {
		f.OnCreateNetwork(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpCreateNetwork, spec.Region, "", spec.AddressBlock); err != nil {
		return "", err
	}

	id := f.newID("net")
	f.networks[id] = &Network{
		ID:           id,
		AddressBlock: spec.AddressBlock,
		Region:       spec.Region,
		ClaimToken:   spec.ClaimToken,
	}
	if f.LoseNetworkResponse {
		return "", fmt.Errorf("connection reset after create")
	}
	return id, nil
}

// CreateSubdivision implements provider.Provider.
func (f *Fake) CreateSubdivision(_ context.Context, spec provider.SubdivisionSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpCreateSubdivision, spec.Region, spec.NetworkID, spec.AddressBlock); err != nil {
		return "", err
	}

	n := f.subCreates
	f.subCreates++
	if n == f.FailSubdivisionAt {
		return "", fmt.Errorf("subdivision %d: insufficient capacity", n)
	}
	if _, ok := f.networks[spec.NetworkID]; !ok {
		return "", fmt.Errorf("network %s does not exist", spec.NetworkID)
	}

	id := f.newID("sub")
	f.subdivisions[id] = &Subdivision{
		ID:           id,
		NetworkID:    spec.NetworkID,
		AddressBlock: spec.AddressBlock,
	}
	f.order = append(f.order, id)
	return id, nil
}

// Label implements provider.Provider.
func (f *Fake) Label(_ context.Context, region, resourceID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpLabel, region, resourceID, name); err != nil {
		return err
	}
	if n, ok := f.networks[resourceID]; ok {
		n.Label = name
		return nil
	}
	if s, ok := f.subdivisions[resourceID]; ok {
		s.Label = name
		return nil
	}
	return fmt.Errorf("resource %s does not exist", resourceID)
}

// FindNetwork implements provider.Provider.
func (f *Fake) FindNetwork(_ context.Context, region, claimToken string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpFindNetwork, region, "", claimToken); err != nil {
		return "", false, err
	}
	for id, n := range f.networks {
		if n.Region == region && n.ClaimToken == claimToken {
			return id, true, nil
		}
	}
	return "", false, nil
}

// DeleteSubdivision implements provider.Provider. Like the real API, a
// subdivision looked up in the wrong region counts as already gone.
func (f *Fake) DeleteSubdivision(_ context.Context, region, subdivisionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpDeleteSubdivision, region, subdivisionID, ""); err != nil {
		return err
	}
	if s, ok := f.subdivisions[subdivisionID]; ok {
		if n, ok := f.networks[s.NetworkID]; ok && n.Region != region {
			return nil
		}
	}
	delete(f.subdivisions, subdivisionID)
	return nil
}

// DeleteNetwork implements provider.Provider.
func (f *Fake) DeleteNetwork(_ context.Context, region, networkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(provider.OpDeleteNetwork, region, networkID, ""); err != nil {
		return err
	}
	if n, ok := f.networks[networkID]; ok && n.Region != region {
		return nil
	}
	for _, s := range f.subdivisions {
		if s.NetworkID == networkID {
			return fmt.Errorf("network %s has dependencies", networkID)
		}
	}
	delete(f.networks, networkID)
	return nil
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of recorded calls to op, or all calls when op
// is empty.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Networks returns copies of the live networks.
func (f *Fake) Networks() []Network {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Network, 0, len(f.networks))
	for _, n := range f.networks {
		out = append(out, *n)
	}
	return out
}

// Subdivisions returns copies of the live subdivisions in creation order.
func (f *Fake) Subdivisions() []Subdivision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Subdivision, 0, len(f.subdivisions))
	for _, id := range f.order {
		if s, ok := f.subdivisions[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Subdivision returns the live subdivision with id.
func (f *Fake) Subdivision(id string) (Subdivision, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subdivisions[id]
	if !ok {
		return Subdivision{}, false
	}
	return *s, true
}

// Network returns the live network with id.
func (f *Fake) Network(id string) (Network, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[id]
	if !ok {
		return Network{}, false
	}
	return *n, true
}

// SetError makes every call of op fail with err (nil clears it).
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, op)
		return
	}
	f.Errors[op] = err
}

// AddNetwork seeds a network, e.g. one left by an abandoned attempt.
func (f *Fake) AddNetwork(n Network) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[n.ID] = &n
}

// AddSubdivision seeds a subdivision.
func (f *Fake) AddSubdivision(s Subdivision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subdivisions[s.ID] = &s
	f.order = append(f.order, s.ID)
}
