package rabbitmq

const (
	// JobsExchange принимает идентификаторы задач, готовых к обработке.
	JobsExchange = "jobs"
	// NotificationsExchange принимает уведомления о завершении задач.
	NotificationsExchange = "notifications"

	JobsRoutingKey     = "dispatch"
	JobFinishedKey     = "job.finished"
	NotificationsQueue = "notification.job_finished"
)

// QueueConfig описывает очередь и её привязку к обменнику.
type QueueConfig struct {
	Exchange   string
	QueueName  string
	RoutingKey string
}

// JobQueues возвращает очереди воркера обработки.
func JobQueues(queueName string) []QueueConfig {
	if queueName == "" {
		queueName = "jobs.dispatch"
	}
	return []QueueConfig{
		{Exchange: JobsExchange, QueueName: queueName, RoutingKey: JobsRoutingKey},
	}
}

// NotificationQueues возвращает очереди уведомлений для внешних получателей.
func NotificationQueues() []QueueConfig {
	return []QueueConfig{
		{Exchange: NotificationsExchange, QueueName: NotificationsQueue, RoutingKey: JobFinishedKey},
	}
}
