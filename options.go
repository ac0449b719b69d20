package pubsub

import (
	"log/slog"

	"github.com/fogfish/opts"
)

var (
	// WithLogger sets the logger used for dispatch and lifecycle reporting.
	// Defaults to slog.Default().
	WithLogger = opts.ForName[PubSub, *slog.Logger]("log")

	// WithTriggerTransform sets the function mapping triggers to broker
	// topics. Defaults to the identity transform.
	WithTriggerTransform = opts.ForName[PubSub, TriggerTransform]("triggerTransform")

	// WithPublishOptionsResolver installs the reserved per-publish options
	// extension point. Resolver errors fail the publish; resolved options
	// are not consulted by the default publish path.
	WithPublishOptionsResolver = opts.ForName[PubSub, PublishOptionsResolver]("publishResolver")

	// WithSubscribeOptionsResolver installs the reserved per-subscribe
	// options extension point. The resolved options replace the
	// caller-supplied ones before the trigger transform runs.
	WithSubscribeOptionsResolver = opts.ForName[PubSub, SubscribeOptionsResolver]("subscribeResolver")
)
