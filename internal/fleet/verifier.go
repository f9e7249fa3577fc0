// Package fleet reboots the tagged render instances after a publish and
// verifies every one of them comes back running and healthy before the
// announcement campaign is allowed to start.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// ec2API is the slice of the EC2 client the verifier uses. Tests substitute
// a fake; *ec2.Client satisfies it.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, params *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
}

// VerificationFailure means the fleet did not come back healthy. It gates
// the campaign: no announcement goes out over a broken fleet.
type VerificationFailure struct {
	Reason string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("fleet verification failed: %s", e.Reason)
}

// errBudgetExhausted marks a per-instance poll that ran out of attempts.
// Unlike an API error it does not cancel the sibling polls.
var errBudgetExhausted = errors.New("poll budget exhausted")

// Verifier drives the reboot-and-verify sequence:
//
//	Idle -> RebootRequested -> PollingRunning -> PollingHealthy -> Done
//
// Instance discovery and the reboot happen once; polling fans out to one
// goroutine per instance, joined with a WaitGroup. The outcome is the
// logical AND over all instances.
type Verifier struct {
	ec2          ec2API
	tagKey       string
	tagValue     string
	pollInterval time.Duration
	maxAttempts  int
}

// NewVerifier builds a verifier from the fleet configuration, using the
// shared credential chain.
func NewVerifier(ctx context.Context, cfg config.FleetConfig) (*Verifier, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AWSProfile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithSharedConfigProfile(cfg.AWSProfile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewVerifierWithClient(ec2.NewFromConfig(awsCfg), cfg), nil
}

// NewVerifierWithClient wires a verifier onto an existing client. Tests use
// this.
func NewVerifierWithClient(client ec2API, cfg config.FleetConfig) *Verifier {
	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 60
	}
	return &Verifier{
		ec2:          client,
		tagKey:       cfg.TagKey,
		tagValue:     cfg.TagValue,
		pollInterval: interval,
		maxAttempts:  attempts,
	}
}

// Verify reboots every instance matching the tag filter and polls until all
// of them are running with passing status checks, or the attempt budget runs
// out. Progress messages are delivered to the sink from a single goroutine,
// so the sink needs no locking of its own. Returns nil on success and a
// *VerificationFailure otherwise; API errors anywhere abort the whole run.
func (v *Verifier) Verify(ctx context.Context, progress func(string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	// All polling goroutines report through this channel; the single drain
	// goroutine is the only caller of the sink.
	events := make(chan string, 64)
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for msg := range events {
			progress(msg)
		}
	}()

	err := v.verify(ctx, events)
	close(events)
	drained.Wait()
	return err
}

func (v *Verifier) verify(ctx context.Context, events chan<- string) error {
	events <- fmt.Sprintf("Looking up instances tagged %s=%s", v.tagKey, v.tagValue)

	ids, err := v.findInstances(ctx)
	if err != nil {
		return &VerificationFailure{Reason: err.Error()}
	}
	if len(ids) == 0 {
		// Terminal: no reboot or status call is issued for an empty fleet.
		return &VerificationFailure{Reason: fmt.Sprintf("no instances matched tag %s=%s", v.tagKey, v.tagValue)}
	}
	events <- fmt.Sprintf("Found %d instance(s): %s", len(ids), strings.Join(ids, ", "))

	events <- fmt.Sprintf("Requesting reboot of %d instance(s)", len(ids))
	if _, err := v.ec2.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: ids}); err != nil {
		return &VerificationFailure{Reason: fmt.Sprintf("rebooting instances: %v", err)}
	}
	events <- "Reboot requested, polling instance state"

	// One poll task per instance. A task that runs out of budget leaves the
	// others polling; an API error cancels them all.
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = v.pollInstance(pollCtx, id, events)
			if errs[i] != nil && !errors.Is(errs[i], errBudgetExhausted) {
				cancel()
			}
		}(i, id)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var reasons []string
	for _, err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		reasons = append(reasons, err.Error())
	}
	if len(reasons) > 0 {
		return &VerificationFailure{Reason: strings.Join(reasons, "; ")}
	}

	events <- fmt.Sprintf("All %d instance(s) running and healthy", len(ids))
	return nil
}

// findInstances resolves the tag filter to instance ids, following
// pagination.
func (v *Verifier) findInstances(ctx context.Context) ([]string, error) {
	var ids []string
	var nextToken *string
	for {
		out, err := v.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []types.Filter{
				{Name: aws.String("tag:" + v.tagKey), Values: []string{v.tagValue}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describing instances: %w", err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.InstanceId != nil {
					ids = append(ids, *inst.InstanceId)
				}
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return ids, nil
}

// pollInstance watches one instance through reboot: first until its state
// reaches running, then until both status checks pass. Both phases share
// the same attempt budget. Cancellation is honored between attempts, never
// mid-call.
func (v *Verifier) pollInstance(ctx context.Context, id string, events chan<- string) error {
	running := false
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := v.ec2.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			InstanceIds:         []string{id},
			IncludeAllInstances: aws.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("describing status of %s: %w", id, err)
		}

		state, instanceOK, systemOK := instanceHealth(out, id)
		if !running && state == types.InstanceStateNameRunning {
			running = true
			events <- fmt.Sprintf("Instance %s is running (attempt %d/%d)", id, attempt, v.maxAttempts)
		}
		if running && instanceOK && systemOK {
			events <- fmt.Sprintf("Instance %s passed status checks (attempt %d/%d)", id, attempt, v.maxAttempts)
			return nil
		}
		logger.Debug("Instance not healthy yet",
			"instance_id", id, "state", string(state),
			"instance_check", instanceOK, "system_check", systemOK,
			"attempt", attempt, "max_attempts", v.maxAttempts)

		if attempt < v.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(v.pollInterval):
			}
		}
	}

	if !running {
		return fmt.Errorf("instance %s never reached running within %d attempts: %w", id, v.maxAttempts, errBudgetExhausted)
	}
	return fmt.Errorf("instance %s did not pass status checks within %d attempts: %w", id, v.maxAttempts, errBudgetExhausted)
}

// instanceHealth pulls one instance's state and check summaries out of a
// status response. A response that omits the instance reads as not running,
// which keeps the poll going.
func instanceHealth(out *ec2.DescribeInstanceStatusOutput, id string) (state types.InstanceStateName, instanceOK, systemOK bool) {
	for _, st := range out.InstanceStatuses {
		if st.InstanceId == nil || *st.InstanceId != id {
			continue
		}
		if st.InstanceState != nil {
			state = st.InstanceState.Name
		}
		if st.InstanceStatus != nil {
			instanceOK = st.InstanceStatus.Status == types.SummaryStatusOk
		}
		if st.SystemStatus != nil {
			systemOK = st.SystemStatus.Status == types.SummaryStatusOk
		}
		return state, instanceOK, systemOK
	}
	return "", false, false
}
