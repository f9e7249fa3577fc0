package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerloom/stitchpress/internal/config"
)

// fakeEC2 routes calls to per-test closures. Polling calls arrive from
// spawned goroutines, so unexpected calls report with Errorf rather than
// Fatal.
type fakeEC2 struct {
	t                      *testing.T
	describeInstances      func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	rebootInstances        func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error)
	describeInstanceStatus func(*ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error)
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeInstances == nil {
		f.t.Error("unexpected DescribeInstances call")
		return nil, errors.New("unexpected call")
	}
	return f.describeInstances(in)
}

func (f *fakeEC2) RebootInstances(_ context.Context, in *ec2.RebootInstancesInput, _ ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error) {
	if f.rebootInstances == nil {
		f.t.Error("unexpected RebootInstances call")
		return nil, errors.New("unexpected call")
	}
	return f.rebootInstances(in)
}

func (f *fakeEC2) DescribeInstanceStatus(_ context.Context, in *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	if f.describeInstanceStatus == nil {
		f.t.Error("unexpected DescribeInstanceStatus call")
		return nil, errors.New("unexpected call")
	}
	return f.describeInstanceStatus(in)
}

func testVerifier(client ec2API, maxAttempts int) *Verifier {
	v := NewVerifierWithClient(client, config.FleetConfig{TagKey: "role", TagValue: "render-worker"})
	v.pollInterval = time.Millisecond
	v.maxAttempts = maxAttempts
	return v
}

func instancesOutput(ids ...string) *ec2.DescribeInstancesOutput {
	instances := make([]types.Instance, len(ids))
	for i, id := range ids {
		instances[i] = types.Instance{InstanceId: aws.String(id)}
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: instances}},
	}
}

func statusOutput(id string, state types.InstanceStateName, instanceOK, sysOK bool) *ec2.DescribeInstanceStatusOutput {
	toSummary := func(ok bool) *types.InstanceStatusSummary {
		status := types.SummaryStatusInitializing
		if ok {
			status = types.SummaryStatusOk
		}
		return &types.InstanceStatusSummary{Status: status}
	}
	return &ec2.DescribeInstanceStatusOutput{
		InstanceStatuses: []types.InstanceStatus{{
			InstanceId:     aws.String(id),
			InstanceState:  &types.InstanceState{Name: state},
			InstanceStatus: toSummary(instanceOK),
			SystemStatus:   toSummary(sysOK),
		}},
	}
}

func TestVerifyEmptyFleetStopsBeforeReboot(t *testing.T) {
	client := &fakeEC2{t: t, describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
		require.Len(t, in.Filters, 1)
		assert.Equal(t, "tag:role", *in.Filters[0].Name)
		assert.Equal(t, []string{"render-worker"}, in.Filters[0].Values)
		return &ec2.DescribeInstancesOutput{}, nil
	}}

	err := testVerifier(client, 3).Verify(context.Background(), nil)

	var vf *VerificationFailure
	require.True(t, errors.As(err, &vf))
	assert.Contains(t, vf.Reason, "no instances matched")
}

func TestVerifyRebootErrorIsTerminal(t *testing.T) {
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-aaa"), nil
		},
		rebootInstances: func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			return nil, errors.New("UnauthorizedOperation")
		},
	}

	err := testVerifier(client, 3).Verify(context.Background(), nil)

	var vf *VerificationFailure
	require.True(t, errors.As(err, &vf))
	assert.Contains(t, vf.Reason, "rebooting instances")
}

func TestVerifyAllHealthy(t *testing.T) {
	var rebooted []string
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-aaa", "i-bbb"), nil
		},
		rebootInstances: func(in *ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			rebooted = in.InstanceIds
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			require.Len(t, in.InstanceIds, 1)
			return statusOutput(in.InstanceIds[0], types.InstanceStateNameRunning, true, true), nil
		},
	}

	var messages []string
	err := testVerifier(client, 3).Verify(context.Background(), func(msg string) {
		messages = append(messages, msg)
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"i-aaa", "i-bbb"}, rebooted)
	assert.Contains(t, strings.Join(messages, "\n"), "All 2 instance(s) running and healthy")
}

func TestVerifyInstanceStuckInPending(t *testing.T) {
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-good", "i-stuck"), nil
		},
		rebootInstances: func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			id := in.InstanceIds[0]
			if id == "i-stuck" {
				return statusOutput(id, types.InstanceStateNamePending, false, false), nil
			}
			return statusOutput(id, types.InstanceStateNameRunning, true, true), nil
		},
	}

	err := testVerifier(client, 2).Verify(context.Background(), nil)

	var vf *VerificationFailure
	require.True(t, errors.As(err, &vf))
	assert.Contains(t, vf.Reason, "i-stuck never reached running within 2 attempts")
	assert.NotContains(t, vf.Reason, "i-good")
}

func TestVerifyHealthyAfterWarmup(t *testing.T) {
	var calls atomic.Int32
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-aaa"), nil
		},
		rebootInstances: func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			assert.True(t, aws.ToBool(in.IncludeAllInstances))
			switch calls.Add(1) {
			case 1:
				return statusOutput("i-aaa", types.InstanceStateNamePending, false, false), nil
			case 2:
				return statusOutput("i-aaa", types.InstanceStateNameRunning, false, true), nil
			default:
				return statusOutput("i-aaa", types.InstanceStateNameRunning, true, true), nil
			}
		},
	}

	var messages []string
	err := testVerifier(client, 5).Verify(context.Background(), func(msg string) {
		messages = append(messages, msg)
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "i-aaa is running (attempt 2/5)")
	assert.Contains(t, joined, "i-aaa passed status checks (attempt 3/5)")
}

func TestVerifyStatusAPIErrorAbortsAll(t *testing.T) {
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-bad", "i-slow"), nil
		},
		rebootInstances: func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			id := in.InstanceIds[0]
			if id == "i-bad" {
				return nil, errors.New("RequestLimitExceeded")
			}
			// Would poll forever without the cancellation from i-bad.
			return statusOutput(id, types.InstanceStateNamePending, false, false), nil
		},
	}

	start := time.Now()
	err := testVerifier(client, 10000).Verify(context.Background(), nil)

	var vf *VerificationFailure
	require.True(t, errors.As(err, &vf))
	assert.Contains(t, vf.Reason, "describing status of i-bad")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestVerifyCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeEC2{t: t,
		describeInstances: func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return instancesOutput("i-aaa"), nil
		},
		rebootInstances: func(*ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			cancel()
			return statusOutput("i-aaa", types.InstanceStateNamePending, false, false), nil
		},
	}

	err := testVerifier(client, 10000).Verify(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyPaginatedDiscovery(t *testing.T) {
	pages := 0
	client := &fakeEC2{t: t,
		describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			pages++
			if pages == 1 {
				assert.Nil(t, in.NextToken)
				out := instancesOutput("i-aaa")
				out.NextToken = aws.String("page-2")
				return out, nil
			}
			assert.Equal(t, "page-2", aws.ToString(in.NextToken))
			return instancesOutput("i-bbb"), nil
		},
		rebootInstances: func(in *ec2.RebootInstancesInput) (*ec2.RebootInstancesOutput, error) {
			assert.ElementsMatch(t, []string{"i-aaa", "i-bbb"}, in.InstanceIds)
			return &ec2.RebootInstancesOutput{}, nil
		},
		describeInstanceStatus: func(in *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
			return statusOutput(in.InstanceIds[0], types.InstanceStateNameRunning, true, true), nil
		},
	}

	err := testVerifier(client, 3).Verify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestVerificationFailureMessage(t *testing.T) {
	err := &VerificationFailure{Reason: "no instances matched tag role=render-worker"}
	assert.Equal(t, "fleet verification failed: no instances matched tag role=render-worker", err.Error())
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), err))
}
