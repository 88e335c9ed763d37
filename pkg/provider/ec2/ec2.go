// Package ec2 implements provider.Provider on Amazon EC2: networks are VPCs
// and subdivisions are subnets.
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/provider"
)

// Client is the subset of the EC2 API used by Provider.
type Client interface {
	CreateVpc(ctx context.Context, in *ec2.CreateVpcInput, opts ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	CreateSubnet(ctx context.Context, in *ec2.CreateSubnetInput, opts ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, opts ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, opts ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DeleteSubnet(ctx context.Context, in *ec2.DeleteSubnetInput, opts ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	DeleteVpc(ctx context.Context, in *ec2.DeleteVpcInput, opts ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
}

// Provider creates VPCs and subnets through an EC2 client. The region of
// each call comes from the request, not from the client configuration.
type Provider struct {
	client Client
}

var _ provider.Provider = (*Provider)(nil)

// New returns a Provider using client.
func New(client Client) *Provider {
	return &Provider{client: client}
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return "ec2"
}

func inRegion(region string) func(*ec2.Options) {
	return func(o *ec2.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

func claimTags(resourceType types.ResourceType, claimToken string) []types.TagSpecification {
	if claimToken == "" {
		return nil
	}
	return []types.TagSpecification{{
		ResourceType: resourceType,
		Tags: []types.Tag{{
			Key:   aws.String(provider.TagClaimToken),
			Value: aws.String(claimToken),
		}},
	}}
}

// CreateNetwork creates a VPC tagged with the claim token.
func (p *Provider) CreateNetwork(ctx context.Context, spec provider.NetworkSpec) (string, error) {
	out, err := p.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(spec.AddressBlock),
		TagSpecifications: claimTags(types.ResourceTypeVpc, spec.ClaimToken),
	}, inRegion(spec.Region))
	if err != nil {
		return "", classify(err, provider.OpCreateNetwork, spec.AddressBlock)
	}
	if out.Vpc == nil || aws.ToString(out.Vpc.VpcId) == "" {
		return "", engine.NewPermanentError("CreateVpc returned no VPC id", nil).
			WithOperation(provider.OpCreateNetwork).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return aws.ToString(out.Vpc.VpcId), nil
}

// CreateSubdivision creates a subnet inside the VPC.
func (p *Provider) CreateSubdivision(ctx context.Context, spec provider.SubdivisionSpec) (string, error) {
	out, err := p.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             aws.String(spec.NetworkID),
		CidrBlock:         aws.String(spec.AddressBlock),
		TagSpecifications: claimTags(types.ResourceTypeSubnet, spec.ClaimToken),
	}, inRegion(spec.Region))
	if err != nil {
		return "", classify(err, provider.OpCreateSubdivision, spec.AddressBlock)
	}
	if out.Subnet == nil || aws.ToString(out.Subnet.SubnetId) == "" {
		return "", engine.NewPermanentError("CreateSubnet returned no subnet id", nil).
			WithOperation(provider.OpCreateSubdivision).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return aws.ToString(out.Subnet.SubnetId), nil
}

// Label sets the Name tag on a VPC or subnet.
func (p *Provider) Label(ctx context.Context, region, resourceID, name string) error {
	_, err := p.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags: []types.Tag{{
			Key:   aws.String("Name"),
			Value: aws.String(name),
		}},
	}, inRegion(region))
	if err != nil {
		return classify(err, provider.OpLabel, resourceID)
	}
	return nil
}

// FindNetwork looks up a VPC by its claim token tag.
func (p *Provider) FindNetwork(ctx context.Context, region, claimToken string) (string, bool, error) {
	out, err := p.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + provider.TagClaimToken),
			Values: []string{claimToken},
		}},
	}, inRegion(region))
	if err != nil {
		return "", false, classify(err, provider.OpFindNetwork, claimToken)
	}
	for _, vpc := range out.Vpcs {
		if id := aws.ToString(vpc.VpcId); id != "" {
			return id, true, nil
		}
	}
	return "", false, nil
}

// DeleteSubdivision deletes a subnet. A subnet that is already gone counts
// as deleted.
func (p *Provider) DeleteSubdivision(ctx context.Context, region, subdivisionID string) error {
	_, err := p.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: aws.String(subdivisionID),
	}, inRegion(region))
	if err != nil && !isNotFound(err) {
		return classify(err, provider.OpDeleteSubdivision, subdivisionID)
	}
	return nil
}

// DeleteNetwork deletes a VPC. A VPC that is already gone counts as deleted.
func (p *Provider) DeleteNetwork(ctx context.Context, region, networkID string) error {
	_, err := p.client.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: aws.String(networkID),
	}, inRegion(region))
	if err != nil && !isNotFound(err) {
		return classify(err, provider.OpDeleteNetwork, networkID)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidVpcID.NotFound", "InvalidSubnetID.NotFound":
		return true
	}
	return false
}

// classify maps an SDK error onto the engine error classes.
func classify(err error, op, resource string) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			return engine.NewPermanentError("request canceled", err).
				WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeProviderFailed)
		}
		// Transport failures and deadline expiry.
		return engine.NewTransientError("ec2 request failed", err).
			WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeProviderFailed)
	}

	msg := fmt.Sprintf("ec2 %s", apiErr.ErrorCode())
	switch apiErr.ErrorCode() {
	case "RequestLimitExceeded", "Throttling", "ThrottlingException", "RequestThrottled":
		return engine.NewThrottledError(msg, err).
			WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeRateLimited)
	case "InternalError", "InternalFailure", "ServiceUnavailable", "Unavailable", "DependencyViolation":
		return engine.NewTransientError(msg, err).
			WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeProviderFailed)
	}

	if apiErr.ErrorFault() == smithy.FaultServer {
		return engine.NewTransientError(msg, err).
			WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeProviderFailed)
	}
	return engine.NewPermanentError(msg, err).
		WithOperation(op).WithResource(resource).WithCode(engine.ErrCodeProviderFailed)
}
