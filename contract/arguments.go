package contract

// DeclareArguments computes the AMQP queue.declare arguments table for q, per
// spec.md §6: x-queue-type, x-max-priority when set, x-delivery-limit for
// quorum-native retry, x-dead-letter-exchange/x-dead-letter-routing-key when
// DeadLetter is configured, and any user-supplied Arguments merged last (so
// a caller can always override a computed default).
func (q Queue) DeclareArguments() map[string]interface{} {
	args := map[string]interface{}{
		"x-queue-type": string(q.Type),
	}
	if q.MaxPriority > 0 {
		args["x-max-priority"] = q.MaxPriority
	}
	if q.Retry != nil && q.Retry.Mode == RetryQuorumNative && q.Retry.DeliveryLimit > 0 {
		args["x-delivery-limit"] = q.Retry.DeliveryLimit
	}
	if q.DeadLetter != nil {
		args["x-dead-letter-exchange"] = q.DeadLetter.Exchange
		if q.DeadLetter.RoutingKey != "" {
			args["x-dead-letter-routing-key"] = q.DeadLetter.RoutingKey
		}
	}
	for k, v := range q.Arguments {
		args[k] = v
	}
	return args
}
