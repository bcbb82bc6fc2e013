package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pbxlink/pbxlink/internal/database"
)

// Connection modes for a server's agent binding.
const (
	ModeWebhook = "webhook"
	ModeNATS    = "nats"
)

// DefaultTimeout applies to synchronous jobs that don't specify one.
const DefaultTimeout = 60 * time.Second

// JobOptions describes a single job dispatch.
type JobOptions struct {
	Fun            string
	Args           any
	Kwargs         map[string]any
	Timeout        time.Duration
	ResModel       string
	ResMethod      string
	ResNotifyUID   int64
	ResNotifyTitle string
	PassBack       map[string]any

	// Sync waits for the agent's reply instead of returning after send.
	Sync bool
	// RaiseExc propagates dispatch errors to the caller. When false, errors
	// are logged and swallowed.
	RaiseExc bool
}

// Dispatcher sends jobs to the remote agent over the configured transport.
type Dispatcher struct {
	transport Transport
	mode      string
	config    database.SystemConfigRepository
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the given transport. mode is the
// server's connection mode; webhook dispatch requires an active subscription.
func NewDispatcher(transport Transport, mode string, config database.SystemConfigRepository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		mode:      mode,
		config:    config,
		logger:    logger.With("subsystem", "agent"),
	}
}

// LocalJob dispatches a job to the agent. Synchronous jobs return the raw
// reply body; asynchronous jobs return nil after a successful send.
func (d *Dispatcher) LocalJob(ctx context.Context, opts JobOptions) ([]byte, error) {
	data, err := d.dispatch(ctx, opts)
	if err != nil {
		if !opts.RaiseExc {
			d.logger.Error("job dispatch failed", "fun", opts.Fun, "error", err)
			return nil, nil
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, NewValidationError(remote.Error())
		}
		return nil, err
	}
	return data, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, opts JobOptions) ([]byte, error) {
	if d.mode == ModeWebhook {
		subscribed, err := d.config.GetBool(ctx, database.ConfKeyIsSubscribed)
		if err != nil {
			return nil, err
		}
		if !subscribed {
			return nil, NewValidationError("Subscription is not valid!")
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	job := &Job{
		Fun:            opts.Fun,
		Args:           opts.Args,
		Kwargs:         opts.Kwargs,
		Timeout:        int(timeout.Seconds()),
		ResModel:       opts.ResModel,
		ResMethod:      opts.ResMethod,
		ResNotifyUID:   opts.ResNotifyUID,
		ResNotifyTitle: opts.ResNotifyTitle,
		PassBack:       opts.PassBack,
	}

	if opts.Sync {
		reply, err := d.transport.Request(ctx, job, timeout)
		if err != nil {
			return nil, err
		}
		d.logger.Debug("job reply received", "fun", job.Fun, "bytes", len(reply))
		return reply, nil
	}

	if err := d.transport.Send(ctx, job); err != nil {
		return nil, err
	}
	d.logger.Debug("job dispatched", "fun", job.Fun, "res_model", job.ResModel, "res_method", job.ResMethod)
	return nil, nil
}

// AMIAction dispatches an Asterisk Manager Interface action through the
// agent. action holds the AMI fields ("Action", "Channel", ...). asList
// tells the agent to reply with the full event list instead of the first
// response.
func (d *Dispatcher) AMIAction(ctx context.Context, action map[string]any, asList bool, opts JobOptions) ([]byte, error) {
	opts.Fun = "asterisk.manager_action"
	opts.Args = action
	kwargs := map[string]any{"as_list": asList}
	for k, v := range opts.Kwargs {
		kwargs[k] = v
	}
	opts.Kwargs = kwargs
	return d.LocalJob(ctx, opts)
}

// Ping dispatches an asynchronous agent liveness check. The agent replies
// through the callback channel, notifying the given user.
func (d *Dispatcher) Ping(ctx context.Context, notifyUID int64) error {
	_, err := d.LocalJob(ctx, JobOptions{
		Fun:            "test.ping",
		ResNotifyUID:   notifyUID,
		ResNotifyTitle: "Ping",
		RaiseExc:       true,
	})
	return err
}

// AsteriskPing sends a synchronous AMI Ping and returns the raw reply.
func (d *Dispatcher) AsteriskPing(ctx context.Context) ([]byte, error) {
	return d.AMIAction(ctx, map[string]any{"Action": "Ping"}, false, JobOptions{
		Sync:     true,
		Timeout:  5 * time.Second,
		RaiseExc: true,
	})
}
