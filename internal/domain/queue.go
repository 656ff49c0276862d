package domain

// Queue is the at-least-once transport between the poller and the schedule
// consumer. Delivery order is unspecified and duplicates are possible;
// consumers must be idempotent.
type Queue interface {
	IsHealthy() bool
	PublishTaskRef(queueName string, ref TaskRef) error
	ConsumeTaskRefs(consumerName, queueName string, handler func(TaskRef)) error
	Close() error
}
