package ec2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/provider"
)

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

// fakeEC2 keeps VPCs and subnets in memory and records the region of every call.
type fakeEC2 struct {
	mu      sync.Mutex
	vpcs    map[string]types.Vpc
	subnets map[string]types.Subnet
	tags    map[string][]types.Tag
	regions []string
	nextID  int

	// err, when set, is returned by every call.
	err error
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		vpcs:    make(map[string]types.Vpc),
		subnets: make(map[string]types.Subnet),
		tags:    make(map[string][]types.Tag),
	}
}

func (f *fakeEC2) region(opts []func(*ec2.Options)) {
	var o ec2.Options
	for _, fn := range opts {
		fn(&o)
	}
	f.regions = append(f.regions, o.Region)
}

func (f *fakeEC2) CreateVpc(_ context.Context, in *ec2.CreateVpcInput, opts ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}

	f.nextID++
	id := fmt.Sprintf("vpc-%d", f.nextID)
	vpc := types.Vpc{VpcId: aws.String(id), CidrBlock: in.CidrBlock}
	for _, spec := range in.TagSpecifications {
		vpc.Tags = append(vpc.Tags, spec.Tags...)
	}
	f.vpcs[id] = vpc
	return &ec2.CreateVpcOutput{Vpc: &vpc}, nil
}

func (f *fakeEC2) CreateSubnet(_ context.Context, in *ec2.CreateSubnetInput, opts ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.vpcs[aws.ToString(in.VpcId)]; !ok {
		return nil, apiError("InvalidVpcID.NotFound", "vpc not found")
	}

	f.nextID++
	id := fmt.Sprintf("subnet-%d", f.nextID)
	subnet := types.Subnet{SubnetId: aws.String(id), VpcId: in.VpcId, CidrBlock: in.CidrBlock}
	f.subnets[id] = subnet
	return &ec2.CreateSubnetOutput{Subnet: &subnet}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, opts ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}
	for _, id := range in.Resources {
		f.tags[id] = append(f.tags[id], in.Tags...)
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, opts ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}

	out := &ec2.DescribeVpcsOutput{}
	for _, vpc := range f.vpcs {
		if matchesFilters(vpc.Tags, in.Filters) {
			out.Vpcs = append(out.Vpcs, vpc)
		}
	}
	return out, nil
}

func matchesFilters(tags []types.Tag, filters []types.Filter) bool {
	for _, filter := range filters {
		name := aws.ToString(filter.Name)
		matched := false
		for _, tag := range tags {
			if "tag:"+aws.ToString(tag.Key) != name {
				continue
			}
			for _, v := range filter.Values {
				if v == aws.ToString(tag.Value) {
					matched = true
				}
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (f *fakeEC2) DeleteSubnet(_ context.Context, in *ec2.DeleteSubnetInput, opts ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}
	id := aws.ToString(in.SubnetId)
	if _, ok := f.subnets[id]; !ok {
		return nil, apiError("InvalidSubnetID.NotFound", "subnet not found")
	}
	delete(f.subnets, id)
	return &ec2.DeleteSubnetOutput{}, nil
}

func (f *fakeEC2) DeleteVpc(_ context.Context, in *ec2.DeleteVpcInput, opts ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.region(opts)
	if f.err != nil {
		return nil, f.err
	}
	id := aws.ToString(in.VpcId)
	if _, ok := f.vpcs[id]; !ok {
		return nil, apiError("InvalidVpcID.NotFound", "vpc not found")
	}
	for _, s := range f.subnets {
		if aws.ToString(s.VpcId) == id {
			return nil, apiError("DependencyViolation", "vpc has subnets")
		}
	}
	delete(f.vpcs, id)
	return &ec2.DeleteVpcOutput{}, nil
}

func TestProviderCreatesTaggedResources(t *testing.T) {
	client := newFakeEC2()
	p := New(client)
	ctx := context.Background()

	vpcID, err := p.CreateNetwork(ctx, provider.NetworkSpec{AddressBlock: "10.20.0.0/16", Region: "eu-west-1", ClaimToken: "token-1"})
	require.NoError(t, err)

	subnetID, err := p.CreateSubdivision(ctx, provider.SubdivisionSpec{NetworkID: vpcID, AddressBlock: "10.20.0.0/24", Region: "eu-west-1", ClaimToken: "token-1"})
	require.NoError(t, err)
	require.NoError(t, p.Label(ctx, "eu-west-1", subnetID, "web"))

	assert.Equal(t, "10.20.0.0/24", aws.ToString(client.subnets[subnetID].CidrBlock))
	require.Len(t, client.tags[subnetID], 1)
	assert.Equal(t, "Name", aws.ToString(client.tags[subnetID][0].Key))
	assert.Equal(t, "web", aws.ToString(client.tags[subnetID][0].Value))

	for _, region := range client.regions {
		assert.Equal(t, "eu-west-1", region)
	}
}

func TestProviderFindNetworkByClaimToken(t *testing.T) {
	client := newFakeEC2()
	p := New(client)
	ctx := context.Background()

	vpcID, err := p.CreateNetwork(ctx, provider.NetworkSpec{AddressBlock: "10.20.0.0/16", ClaimToken: "token-1"})
	require.NoError(t, err)
	_, err = p.CreateNetwork(ctx, provider.NetworkSpec{AddressBlock: "10.30.0.0/16", ClaimToken: "token-2"})
	require.NoError(t, err)

	found, ok, err := p.FindNetwork(ctx, "", "token-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vpcID, found)

	_, ok, err = p.FindNetwork(ctx, "", "token-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderDeleteMissingIsSuccess(t *testing.T) {
	p := New(newFakeEC2())
	ctx := context.Background()

	assert.NoError(t, p.DeleteSubdivision(ctx, "", "subnet-404"))
	assert.NoError(t, p.DeleteNetwork(ctx, "", "vpc-404"))
}

func TestProviderDeleteNetworkWithSubnetsIsTransient(t *testing.T) {
	client := newFakeEC2()
	p := New(client)
	ctx := context.Background()

	vpcID, err := p.CreateNetwork(ctx, provider.NetworkSpec{AddressBlock: "10.20.0.0/16"})
	require.NoError(t, err)
	_, err = p.CreateSubdivision(ctx, provider.SubdivisionSpec{NetworkID: vpcID, AddressBlock: "10.20.0.0/24"})
	require.NoError(t, err)

	err = p.DeleteNetwork(ctx, "", vpcID)
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class engine.ErrorClass
		code  string
	}{
		{"throttled", apiError("RequestLimitExceeded", "slow down"), engine.ErrorClassThrottled, engine.ErrCodeRateLimited},
		{"server fault", &smithy.GenericAPIError{Code: "Boom", Fault: smithy.FaultServer}, engine.ErrorClassTransient, engine.ErrCodeProviderFailed},
		{"unavailable", apiError("ServiceUnavailable", "try later"), engine.ErrorClassTransient, engine.ErrCodeProviderFailed},
		{"invalid cidr", apiError("InvalidParameterValue", "bad cidr"), engine.ErrorClassPermanent, engine.ErrCodeProviderFailed},
		{"limit", apiError("VpcLimitExceeded", "too many"), engine.ErrorClassPermanent, engine.ErrCodeProviderFailed},
		{"network", errors.New("dial tcp: i/o timeout"), engine.ErrorClassTransient, engine.ErrCodeProviderFailed},
		{"canceled", context.Canceled, engine.ErrorClassPermanent, engine.ErrCodeProviderFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, provider.OpCreateNetwork, "10.0.0.0/16")
			assert.Equal(t, tt.class, engine.ClassOf(err))
			assert.Equal(t, tt.code, engine.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestProviderCreateNetworkError(t *testing.T) {
	client := newFakeEC2()
	client.err = apiError("UnauthorizedOperation", "denied")

	_, err := New(client).CreateNetwork(context.Background(), provider.NetworkSpec{AddressBlock: "10.20.0.0/16"})
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
	assert.False(t, engine.IsRetryable(err))
}
